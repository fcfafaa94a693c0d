package vm

import "github.com/ethereum/go-ethereum/metrics"

var (
	opcodeCount   = metrics.NewRegisteredCounter("evm/opcodeCount", nil)
	callTimer     = metrics.NewRegisteredTimer("evm/call/time", nil)
	depthExceeded = metrics.NewRegisteredMeter("evm/call/depth", nil)
)
