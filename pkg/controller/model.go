package controller

import (
	"github.com/ja7ad/undervolt/pkg/types"
	"github.com/ja7ad/undervolt/pkg/voltage"
)

// Config holds controller tunables.
//   - Parallelism: max concurrent per-core transactions during a fan-out;
//     0 means one goroutine per core, 1 means sequential.
//   - ReadCore: representative core used by Get.
type Config struct {
	Parallelism int
	ReadCore    int
}

// AppliedOffset is the confirmed result of writing one plane.
type AppliedOffset struct {
	Plane     voltage.Plane
	Requested types.Millivolts
	// Applied is the offset decoded from the first core's readback.
	Applied types.Millivolts
	// PerCore holds every core's decoded readback, indexed by core.
	PerCore []types.Millivolts
}

// Applied flattens a Set result into an OffsetRequest of confirmed values.
func Applied(m map[voltage.Plane]AppliedOffset) voltage.OffsetRequest {
	out := make(voltage.OffsetRequest, len(m))
	for p, a := range m {
		out[p] = a.Applied
	}
	return out
}
