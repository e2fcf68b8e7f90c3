package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/worksuite/smsdispatch/internal/dispatch_service/domain"
)

// classifyTransportError maps HTTP client failures onto the error taxonomy.
// Carrier APIs sit behind managed load balancers, so unlike the hardware
// gateway path there is no TLS-specific diagnosis here.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("%w: %v", domain.ErrConnectionRefused, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrUnreachable, err)
}

func truncate(body []byte, limit int) string {
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
