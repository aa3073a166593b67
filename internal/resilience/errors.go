package resilience

import (
	"errors"
	"net"
	"syscall"

	"github.com/sells-group/apflow/pkg/erp"
)

// IsTransient reports whether the error is worth retrying: a tool failure
// the ERP client flagged retryable (unavailable, timeout), a network-level
// timeout, or a connection failure. Protocol errors and business rejections
// are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if tf, ok := erp.AsFailure(err); ok {
		return tf.Retryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED)
}
