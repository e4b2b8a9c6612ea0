//go:build !linux && !darwin

package poller

// New 在不支持的平台上返回 ErrUnavailable
func New(maxEvents int) (Poller, error) {
	return nil, ErrUnavailable
}
