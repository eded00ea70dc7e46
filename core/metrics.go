package core

import "github.com/ethereum/go-ethereum/metrics"

var (
	validationSuccessCounter = metrics.NewRegisteredCounter("account/validation/success", nil)
	validationFailureCounter = metrics.NewRegisteredCounter("account/validation/failure", nil)
	prefundSettledCounter    = metrics.NewRegisteredCounter("account/prefund/settled", nil)
	prefundSwallowedCounter  = metrics.NewRegisteredCounter("account/prefund/swallowed", nil)
	executeRevertCounter     = metrics.NewRegisteredCounter("account/execute/revert", nil)
	handleOpsCounter         = metrics.NewRegisteredCounter("entrypoint/handleops/ops", nil)
)
