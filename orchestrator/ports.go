package orchestrator

import (
	"fmt"

	"github.com/cloudfleet/emulator/cmn"
)

// serviceOrder is the stable topological bring-up order spec.md §4.7
// names: dependencies first. Port allocation derives from this slice's
// index (the i in P+i+1); start order is the order in which New adds
// providers, which follows the same sequence but is written out there
// separately.
var serviceOrder = []string{
	cmn.ServiceDynamoDB,
	cmn.ServiceS3,
	cmn.ServiceSQS,
	cmn.ServiceScheduler,
	cmn.ServiceSNS,
	cmn.ServiceEventBridge,
	"lambda",
}

// allocatePorts assigns svc_i to fleetPort + i + 1 for every entry in
// serviceOrder, returning a name -> port map. Scheduler has no HTTP
// surface of its own but still consumes a slot, keeping every other
// service's offset stable regardless of which services are enabled.
func allocatePorts(fleetPort int) map[string]int {
	ports := make(map[string]int, len(serviceOrder))
	for i, svc := range serviceOrder {
		ports[svc] = fleetPort + i + 1
	}
	return ports
}

// checkNoCollisions aborts startup with a fatal error listing taken
// ports when two services would bind the same port (spec.md §4.7) —
// unreachable with allocatePorts' own 1:1 index mapping, but guards any
// future custom port override a Config gains.
func checkNoCollisions(ports map[string]int) error {
	seen := make(map[int]string, len(ports))
	for svc, port := range ports {
		if other, taken := seen[port]; taken {
			return fmt.Errorf("port collision: %s and %s both bind %d", svc, other, port)
		}
		seen[port] = svc
	}
	return nil
}
