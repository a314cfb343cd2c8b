package leader

import "errors"

// ErrRecoveryFailed wraps store failures while preparing an epoch.
var ErrRecoveryFailed = errors.New("job graph recovery failed")
