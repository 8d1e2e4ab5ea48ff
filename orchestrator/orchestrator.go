// Package orchestrator implements the Orchestrator & Lifecycle
// component (C7): it owns every service's bring-up/shutdown order, the
// stable port-allocation scheme, cross-service reference wiring, the
// shared registries (chaos, mock, IAM), and the management-plane
// surfaces those registries feed (spec.md §4.7).
package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cloudfleet/emulator/chaos"
	"github.com/cloudfleet/emulator/cmn"
	"github.com/cloudfleet/emulator/compute"
	"github.com/cloudfleet/emulator/fanout"
	"github.com/cloudfleet/emulator/iam"
	"github.com/cloudfleet/emulator/kv"
	"github.com/cloudfleet/emulator/management"
	"github.com/cloudfleet/emulator/middleware"
	"github.com/cloudfleet/emulator/mock"
	"github.com/cloudfleet/emulator/objectstore"
	"github.com/cloudfleet/emulator/provider"
	"github.com/cloudfleet/emulator/queue"
	"github.com/cloudfleet/emulator/registry"
	"github.com/cloudfleet/emulator/scheduler"
	"github.com/cloudfleet/emulator/watcher"
)

// entry pairs a named provider with the order it was brought up in, so
// Stop can walk the list in reverse without a second sorted structure.
type entry struct {
	name string
	prov provider.Provider
}

// Orchestrator constructs, wires, and supervises every emulated
// service's provider. One Orchestrator serves one fleet.
type Orchestrator struct {
	cfg *cmn.Config
	log *zap.Logger

	ports    map[string]int
	registry *registry.Registry
	chaos    *chaos.Registry
	mocks    *mock.Registry
	iam      *iam.Store
	iamSet   *management.IAMSettingStore

	kvEngine       *kv.Engine
	objStore       *objectstore.Store
	queueEngine    *queue.Engine
	schedEngine    *scheduler.Engine
	fanoutEngine   *fanout.Engine
	computeEngine  *compute.Engine
	computeRegistry *compute.Registry

	deliver *deliverRouter
	notify  *notifyRouter
	pub     *schedulerPublisher

	mgmtPlane *management.Plane
	watch     *watcher.Watcher

	entries []entry
	byName  map[string]provider.Provider
}

// New loads the identity/policy stores first, then builds every
// configured service in spec.md §4.7's stable topological order
// (dependencies first: kv, objectstore, queue, scheduler, fanout,
// compute, then the management plane), wiring cross-service references via late setters/routers
// before any provider's Start is called.
func New(cfg *cmn.Config, log *zap.Logger) (*Orchestrator, error) {
	if log == nil {
		log = zap.NewNop()
	}

	ports := allocatePorts(cfg.FleetPort)
	if err := checkNoCollisions(ports); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:      cfg,
		log:      log,
		ports:    ports,
		registry: registry.New(),
		chaos:    chaos.NewRegistry(),
		mocks:    mock.NewRegistry(),
		byName:   make(map[string]provider.Provider),
	}

	identities, err := iam.NewIdentityStore(cfg.IdentitiesPath)
	if err != nil {
		return nil, fmt.Errorf("loading identities: %w", err)
	}
	perms, err := iam.NewPermissionsMap(cfg.PermissionsPath)
	if err != nil {
		return nil, fmt.Errorf("loading permissions: %w", err)
	}
	o.iam = iam.New(identities, perms, iam.NewResourcePolicyStore())
	o.iamSet = management.NewIAMSettingStore(cfg.IAMMode, cfg.IAMDefaultID)

	// kv (dynamodb): no cross-refs.
	o.kvEngine = kv.NewEngine(cfg.DataDir)
	o.addHTTP(cmn.ServiceDynamoDB, kv.NewProvider(o.kvEngine, o.pipelineFor(cmn.ServiceDynamoDB, cmn.FamilyJSON, jsonExtractors()), log, ports[cmn.ServiceDynamoDB]))

	// objectstore (s3): Notifier is a router to sqs/sns/lambda, handed
	// over via SetNotifier now; its slots are filled in below once those
	// engines exist.
	o.notify = newNotifyRouter(nil, nil, nil)
	o.objStore = objectstore.NewStore(cfg.DataDir, nil)
	o.objStore.SetNotifier(o.notify)
	o.addHTTP(cmn.ServiceS3, objectstore.NewProvider(o.objStore, o.pipelineFor(cmn.ServiceS3, cmn.FamilyS3, s3Extractors()), log, ports[cmn.ServiceS3]))

	// queue (sqs): no cross-refs.
	o.queueEngine = queue.NewEngine(log)
	o.addHTTP(cmn.ServiceSQS, queue.NewProvider(o.queueEngine, o.pipelineFor(cmn.ServiceSQS, cmn.FamilyJSON, jsonExtractors()), log, ports[cmn.ServiceSQS]))
	o.notify.sqs = newQueueDeliver(o.queueEngine)

	// scheduler: Publisher is routed through a late-bound pointer to
	// *fanout.Engine, set once fanout is constructed below.
	o.pub = newSchedulerPublisher()
	o.schedEngine = scheduler.NewEngine(o.pub, log)
	o.addPlain(cmn.ServiceScheduler, scheduler.NewProvider(o.schedEngine, log))

	// fanout (sns + events): Deliver is routed to queue (wired now),
	// lambda (wired after compute is built below), http (always
	// available).
	o.deliver = newDeliverRouter()
	var queueSub subDeliver = newQueueDeliver(o.queueEngine)
	o.deliver.SetQueue(queueSub)
	var httpSub subDeliver = newHTTPDeliver()
	o.deliver.SetHTTP(httpSub)
	o.fanoutEngine = fanout.NewEngine(o.deliver, log)
	o.addHTTP(cmn.ServiceSNS, fanout.NewTopicProvider(o.fanoutEngine, o.pipelineFor(cmn.ServiceSNS, cmn.FamilyJSON, jsonExtractors()), log, ports[cmn.ServiceSNS]))
	o.addHTTP(cmn.ServiceEventBridge, fanout.NewRuleProvider(o.fanoutEngine, o.pipelineFor(cmn.ServiceEventBridge, cmn.FamilyJSON, jsonExtractors()), log, ports[cmn.ServiceEventBridge]))
	o.pub.SetEngine(o.fanoutEngine)
	o.notify.sns = newTopicNotify(o.fanoutEngine)

	// compute (lambda): now that it exists, fill in the lambda slots
	// deliverRouter/notifyRouter started with nil.
	o.computeRegistry = compute.NewRegistry()
	o.computeEngine = compute.NewEngine(o.computeRegistry, log)
	var lambdaSub subDeliver = compute.NewFanoutDeliver(o.computeEngine, log)
	o.deliver.SetLambda(lambdaSub)
	o.notify.lambda = compute.NewObjectNotifier(o.computeEngine, log)
	o.addHTTP("lambda", compute.NewProvider(o.computeRegistry, o.computeEngine, o.pipelineFor("lambda", cmn.FamilyJSON, jsonExtractors()), log, ports["lambda"], nil))

	o.mgmtPlane = management.New(o, o.chaos, o.iamSet, o.Resources, o.Reset, log)
	o.addHTTP("management", management.NewProvider(o.mgmtPlane, cfg.FleetPort))

	for _, svc := range o.cfg.Services {
		if port, ok := ports[svc]; ok {
			o.registry.Register(registry.Endpoint{Name: svc, Host: "localhost", Port: port})
		}
	}

	if cfg.DataDir != "" {
		o.watch = watcher.New(cfg.DataDir, nil, []string{"*.tmp"}, o.onDataDirChange, log)
	}

	return o, nil
}

func (o *Orchestrator) addHTTP(name string, p provider.HTTPProvider) {
	o.entries = append(o.entries, entry{name: name, prov: p})
	o.byName[name] = p
}

func (o *Orchestrator) addPlain(name string, p provider.Provider) {
	o.entries = append(o.entries, entry{name: name, prov: p})
	o.byName[name] = p
}

func (o *Orchestrator) pipelineFor(service, family string, extract middleware.Extractors) *middleware.Pipeline {
	iamStore := o.iam
	iamSet := o.iamSet
	return &middleware.Pipeline{
		Service: service,
		Family:  family,
		Mocks:   o.mocks,
		Chaos:   o.chaos,
		IAM:     iamStore,
		Setting: iamSet.SettingFunc(service),
		Extract: extract,
	}
}

// Start brings up every provider in construction order, failing fast on
// the first error (partial starts are left running; the caller is
// expected to call Stop on a failed Start to unwind them).
func (o *Orchestrator) Start(ctx context.Context) error {
	for _, e := range o.entries {
		if err := e.prov.Start(ctx); err != nil {
			return fmt.Errorf("starting %s: %w", e.name, err)
		}
		o.log.Info("provider started", zap.String("service", e.name))
	}
	if o.watch != nil {
		if err := o.watch.Start(ctx); err != nil {
			return fmt.Errorf("starting watcher: %w", err)
		}
	}
	return nil
}

// Stop tears down every provider one at a time in reverse bring-up
// order, each given a context that expires after cfg.GraceWindow; a
// provider whose Stop returns an error (including the window expiring)
// is logged and shutdown moves on to the next one (spec.md §4.7).
func (o *Orchestrator) Stop(ctx context.Context) error {
	if o.watch != nil {
		o.watch.Stop()
	}

	grace := o.cfg.GraceWindow
	if grace <= 0 {
		grace = cmn.DefaultGraceWindow
	}

	for i := len(o.entries) - 1; i >= 0; i-- {
		e := o.entries[i]
		stopCtx, cancel := context.WithTimeout(context.Background(), grace)
		if err := e.prov.Stop(stopCtx); err != nil {
			o.log.Warn("provider stop exceeded grace window or errored", zap.String("service", e.name), zap.Error(err))
		}
		cancel()
	}
	return nil
}

// ServiceStatuses implements management.StatusSource.
func (o *Orchestrator) ServiceStatuses() map[string]management.ServiceStatus {
	out := make(map[string]management.ServiceStatus, len(o.entries))
	for _, e := range o.entries {
		st := management.ServiceStatus{Healthy: e.prov.Health()}
		if hp, ok := e.prov.(provider.HTTPProvider); ok {
			st.Port = hp.Port()
		}
		out[e.name] = st
	}
	return out
}

// Resources aggregates a lightweight inventory tree for GET
// /_ldk/resources (spec.md §4.14): table/bucket/queue/topic/rule/
// function names per service, enough to inspect fleet state without a
// full per-service list API.
func (o *Orchestrator) Resources() map[string]interface{} {
	return map[string]interface{}{
		cmn.ServiceDynamoDB:    o.kvEngine.ListTables(),
		cmn.ServiceS3:          bucketNames(o.objStore.ListBuckets()),
		cmn.ServiceSNS:         topicARNs(o.fanoutEngine.ListTopics()),
		cmn.ServiceEventBridge: ruleARNs(o.fanoutEngine.ListRules()),
		"lambda":               functionNames(o.computeRegistry.List()),
	}
}

// Reset drops every service's in-memory data (spec.md §4.14's POST
// /_ldk/reset) without touching IAM identities/permissions, which
// persist across a reset by design.
func (o *Orchestrator) Reset() {
	o.kvEngine.Reset()
	o.objStore.Reset()
	o.queueEngine.Reset()
	o.fanoutEngine.Reset()
	o.schedEngine.Reset()
}

func (o *Orchestrator) onDataDirChange(paths []string) {
	o.log.Info("data directory changed", zap.Strings("paths", paths))
}

func bucketNames(buckets []*objectstore.Bucket) []string {
	out := make([]string, len(buckets))
	for i, b := range buckets {
		out[i] = b.Name
	}
	return out
}

func topicARNs(topics []*fanout.Topic) []string {
	out := make([]string, len(topics))
	for i, t := range topics {
		out[i] = t.ARN
	}
	return out
}

func ruleARNs(rules []*fanout.Rule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.ARN
	}
	return out
}

func functionNames(fns []compute.FunctionConfig) []string {
	out := make([]string, len(fns))
	for i, f := range fns {
		out[i] = f.Name
	}
	return out
}
