package gateway

// The gateway firmware determines which endpoint paths exist and which
// request encodings they accept; neither is fixed by contract. Probing is
// modeled as an ordered candidate list tried strictly sequentially through a
// uniform attempt contract: stop on success, advance on a retryable failure,
// abort only on a fatal one (caller cancellation, locally-invalid input).
// Concurrent probing is deliberately avoided: the target is a low-power
// embedded device and parallel requests produce ambiguous session state.

// requestShape is the encoding used for one probe attempt.
type requestShape int

const (
	shapeFormPost requestShape = iota
	shapeJSONPost
	shapeQueryGet
)

func (s requestShape) String() string {
	switch s {
	case shapeFormPost:
		return "form-post"
	case shapeJSONPost:
		return "json-post"
	case shapeQueryGet:
		return "query-get"
	default:
		return "unknown"
	}
}

// candidate is one endpoint path / request shape combination.
type candidate struct {
	path  string
	shape requestShape
}

// outcome classifies one probe attempt.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRetry
	outcomeFatal
)

// Default candidate paths, overridable through configuration.
var (
	defaultStatusEndpoints = []string{
		"/api/check_status",
		"/api/status",
		"/api/get_status",
		"/api/sms_status",
	}
	defaultInventoryEndpoints = []string{
		"/api/get_sim_status",
		"/api/sim_status",
		"/api/status",
		"/api/get_status",
	}
)

// inventoryCandidates expands endpoint paths into the full ordered
// path-by-shape attempt list.
func inventoryCandidates(paths []string) []candidate {
	shapes := []requestShape{shapeFormPost, shapeJSONPost, shapeQueryGet}
	candidates := make([]candidate, 0, len(paths)*len(shapes))
	for _, path := range paths {
		for _, shape := range shapes {
			candidates = append(candidates, candidate{path: path, shape: shape})
		}
	}
	return candidates
}
