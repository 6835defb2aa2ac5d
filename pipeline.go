package readout

import (
	"context"
	"fmt"
	"time"

	"github.com/alice-fair/readout/internal/aggregator"
	"github.com/alice-fair/readout/internal/bank"
	"github.com/alice-fair/readout/internal/block"
	"github.com/alice-fair/readout/internal/consumer"
	"github.com/alice-fair/readout/internal/equipment"
	"github.com/alice-fair/readout/internal/loop"
	"github.com/alice-fair/readout/internal/logging"
	"github.com/alice-fair/readout/internal/pagepool"
	"github.com/alice-fair/readout/internal/rate"
	"github.com/alice-fair/readout/internal/sink"
	"github.com/alice-fair/readout/internal/source"
	"github.com/alice-fair/readout/internal/stats"
	"github.com/alice-fair/readout/internal/tfclock"
)

// EquipmentParams configures one producer within a Pipeline.
type EquipmentParams struct {
	Name        string
	EquipmentID uint16
	LinkID      uint8

	PageSize  int // defaults to DefaultPageSize
	PageCount int // defaults to DefaultPageCount
	BankName  string

	// Source, if nil, defaults to a synthetic source.Generator driven at
	// OrbitRate with PayloadSize-byte blocks.
	Source      source.Source
	OrbitRate   float64
	PayloadSize int

	RDHCheckEnabled     bool
	ErrorSink           sink.Sink
	ErrorSinkMax        int
	DropEmptyHeartbeats bool
	StopOnError         bool

	// TFRateHz caps how fast new timeframes are admitted from this
	// equipment; zero disables the cap.
	TFRateHz float64

	// CPUAffinity, if non-empty, pins this equipment's producer loop to
	// one of the listed CPUs.
	CPUAffinity []int
}

// ConsumerParams configures one entry in the Pipeline's consumer
// fan-out.
type ConsumerParams struct {
	Name        string
	Sink        sink.Sink
	Filter      consumer.Filter
	StopOnError bool
	Forward     *ConsumerParams
}

// PipelineParams configures a Pipeline end to end.
type PipelineParams struct {
	RunNumber uint32

	BankSize     int64 // defaults to DefaultBankSize
	UseHugepages bool

	Equipment []EquipmentParams
	Consumers []ConsumerParams

	TFPeriodOrbits    uint32
	SliceTimeout      time.Duration
	TFTimeout         time.Duration
	EnableStfBuilding bool
}

// Options carries cross-cutting collaborators for Create, mirroring how
// a caller supplies its own context/logger/observer rather than the
// Pipeline reaching for globals.
type Options struct {
	Context context.Context
	Logger  *logging.Logger

	// StatsAddr, if set, is the UDP destination the Stats Bus publishes
	// to. Empty disables the publisher.
	StatsAddr     string
	StatsInterval time.Duration
}

// Pipeline wires a Bank Manager, one Equipment per configured source,
// an Aggregator, and a Consumer Fan-out into a single runnable unit.
type Pipeline struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *logging.Logger

	banks      *bank.Manager
	equipments []*equipment.Equipment
	aggregator *aggregator.Aggregator
	aggLoop    *loop.Loop
	fanout     *consumer.Fanout
	dispatch   *loop.Loop
	stats      *stats.Counters
	publisher  *stats.Publisher

	started bool
}

// State is the Pipeline's coarse lifecycle state.
type State string

const (
	StateCreated State = "created"
	StateRunning State = "running"
	StateStopped State = "stopped"
)

// Create builds and starts a Pipeline from params. On any failure it
// tears down whatever was already started before returning the error.
func Create(ctx context.Context, params PipelineParams, options *Options) (*Pipeline, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if options == nil {
		options = &Options{}
	}
	if options.Context != nil {
		ctx = options.Context
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.Default()
	}

	if len(params.Equipment) == 0 {
		return nil, NewError("Create", ErrConfiguration, "at least one equipment must be configured")
	}

	bankSize := params.BankSize
	if bankSize <= 0 {
		bankSize = DefaultBankSize
	}
	var b *bank.Bank
	var err error
	if params.UseHugepages {
		b, err = bank.NewHugepage("main", "readout primary bank", bankSize)
	} else {
		b, err = bank.New("main", "readout primary bank", bankSize)
	}
	if err != nil {
		return nil, WrapError("Create", ErrConfiguration, err)
	}
	banks := bank.NewManager()
	banks.Register(b)

	p := &Pipeline{logger: logger, banks: banks, stats: stats.New()}
	p.ctx, p.cancel = context.WithCancel(ctx)

	global := tfclock.NewGlobalFirstOrbit()
	inputs := make([]aggregator.Input, 0, len(params.Equipment))

	for _, ep := range params.Equipment {
		eq, err := p.buildEquipment(ep, params, global)
		if err != nil {
			p.teardown()
			return nil, err
		}
		p.equipments = append(p.equipments, eq)
		inputs = append(inputs, aggregator.Input{Name: ep.Name, Queue: eq.Output()})
	}

	aggOutput := make(chan pagepool.DataSet, 1024)
	p.aggregator = aggregator.New(aggregator.Config{
		Inputs:            inputs,
		Output:            aggOutput,
		SliceTimeout:      orDefaultDuration(params.SliceTimeout, DefaultSliceTimeout),
		TFTimeout:         orDefaultDuration(params.TFTimeout, DefaultTFTimeout),
		EnableStfBuilding: params.EnableStfBuilding,
		Logger:            logger,
	})
	p.aggLoop = loop.New(loop.Config{
		Step: func(_ context.Context) (loop.Result, error) {
			return p.aggregator.Step(time.Now()), nil
		},
		IdleSleep: DefaultIdleSleep,
	})

	entries, err := buildConsumerEntries(params.Consumers)
	if err != nil {
		p.teardown()
		return nil, err
	}
	p.fanout = consumer.New(entries)
	p.dispatch = loop.New(loop.Config{
		Step: func(_ context.Context) (loop.Result, error) {
			select {
			case ds := <-aggOutput:
				p.fanout.Dispatch(ds)
				p.stats.Subtimeframes.Add(1)
				p.stats.Touch(time.Now())
				return loop.Ok, nil
			default:
				return loop.Idle, nil
			}
		},
		IdleSleep: DefaultIdleSleep,
	})

	if options.StatsAddr != "" {
		interval := options.StatsInterval
		if interval <= 0 {
			interval = DefaultStatsPublishInterval
		}
		pub, err := stats.NewPublisher(p.stats, options.StatsAddr, interval)
		if err != nil {
			p.teardown()
			return nil, WrapError("Create", ErrConfiguration, err)
		}
		p.publisher = pub
	}

	if err := p.start(); err != nil {
		p.teardown()
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) buildEquipment(ep EquipmentParams, params PipelineParams, global *tfclock.GlobalFirstOrbit) (*equipment.Equipment, error) {
	pageSize := ep.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	pageCount := ep.PageCount
	if pageCount <= 0 {
		pageCount = DefaultPageCount
	}

	rng, err := p.banks.Reserve(ep.BankName, 0, 0, int64(pageSize), pageCount)
	if err != nil {
		return nil, WrapError("Create", ErrConfiguration, fmt.Errorf("equipment %s: %w", ep.Name, err))
	}
	pool, err := pagepool.New(pagepool.Config{
		Name:      ep.Name,
		Data:      rng.Bytes(),
		PageSize:  pageSize,
		PageCount: pageCount,
	})
	if err != nil {
		return nil, WrapError("Create", ErrConfiguration, err)
	}

	src := ep.Source
	if src == nil {
		src = source.NewGenerator(source.GeneratorConfig{
			LinkID:      ep.LinkID,
			EquipmentID: ep.EquipmentID,
			OrbitRate:   ep.OrbitRate,
			PayloadSize: ep.PayloadSize,
		})
	}

	clock := tfclock.New(tfclock.Config{
		TFPeriodOrbits: orDefaultU32(params.TFPeriodOrbits, DefaultTFPeriodOrbits),
		Global:         global,
		Logger:         p.logger,
		OrbitRate:      ep.OrbitRate,
	})

	var limiter *rate.Regulator
	if ep.TFRateHz > 0 {
		limiter = rate.New(ep.TFRateHz, 0)
		limiter.Arm(time.Now())
	}

	errorSinkMax := ep.ErrorSinkMax
	if errorSinkMax <= 0 {
		errorSinkMax = DefaultErrorSinkMax
	}

	eq := equipment.New(equipment.Config{
		Name:            ep.Name,
		EquipmentID:     ep.EquipmentID,
		RunNumber:       params.RunNumber,
		Pool:            pool,
		Source:          src,
		Clock:           clock,
		TFRateLimit:     limiter,
		RDHCheckEnabled: ep.RDHCheckEnabled,
		ErrorSink:       ep.ErrorSink,
		ErrorSinkMax:    errorSinkMax,
		DropEmptyHeartbeat: func(h block.Header) bool {
			return ep.DropEmptyHeartbeats && h.PayloadSize == 0
		},
		StopOnError: ep.StopOnError,
		IdleSleep:   DefaultIdleSleep,
		CPUAffinity: ep.CPUAffinity,
		Stats:       p.stats,
		Logger:      p.logger,
	})
	return eq, nil
}

func buildConsumerEntries(params []ConsumerParams) ([]*consumer.Entry, error) {
	entries := make([]*consumer.Entry, 0, len(params))
	for _, cp := range params {
		if cp.Sink == nil {
			return nil, NewError("Create", ErrConfiguration, fmt.Sprintf("consumer %s: no sink configured", cp.Name))
		}
		e := &consumer.Entry{
			Name:        cp.Name,
			Sink:        cp.Sink,
			Filter:      cp.Filter,
			StopOnError: cp.StopOnError,
		}
		if cp.Forward != nil {
			if cp.Forward.Sink == nil {
				return nil, NewError("Create", ErrConfiguration, fmt.Sprintf("consumer %s: forward target has no sink", cp.Name))
			}
			e.Forward = &consumer.Entry{
				Name:        cp.Forward.Name,
				Sink:        cp.Forward.Sink,
				Filter:      cp.Forward.Filter,
				StopOnError: cp.Forward.StopOnError,
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (p *Pipeline) start() error {
	for _, eq := range p.equipments {
		if err := eq.Start(); err != nil {
			return WrapError("Start", ErrDriverFailure, err)
		}
	}
	if err := p.fanout.Start(); err != nil {
		return WrapError("Start", ErrConfiguration, err)
	}
	p.aggLoop.Start()
	p.dispatch.Start()
	if p.publisher != nil {
		go p.publisher.Run(p.ctx)
	}
	p.started = true
	p.stats.StateCode.Store(stats.StateRunning)
	return nil
}

// Stop drains and stops every stage: producers first so no new data
// enters, then the aggregator and fan-out so what is already in flight
// is flushed, then shared resources.
func (p *Pipeline) Stop() error {
	if !p.started {
		return nil
	}
	p.stats.StateCode.Store(stats.StateStopping)
	for _, eq := range p.equipments {
		eq.Stop()
	}
	p.aggregator.RequestFlush()
	p.aggLoop.Stop()
	p.dispatch.Stop()
	err := p.fanout.Stop()
	p.cancel()
	if p.publisher != nil {
		_ = p.publisher.Close()
	}
	if bankErr := p.banks.Close(); bankErr != nil && err == nil {
		err = bankErr
	}
	p.started = false
	p.stats.StateCode.Store(stats.StateIdle)
	return err
}

// teardown releases whatever partially-constructed resources exist;
// used when Create fails partway through.
func (p *Pipeline) teardown() {
	p.cancel()
	for _, eq := range p.equipments {
		eq.Stop()
	}
	_ = p.banks.Close()
}

// State reports the Pipeline's current lifecycle state.
func (p *Pipeline) State() State {
	if p == nil || !p.started {
		return StateStopped
	}
	return StateRunning
}

// Stats returns the Pipeline's Global Stats Counters block.
func (p *Pipeline) Stats() *stats.Counters { return p.stats }

// Equipment returns the configured producers, in configuration order.
func (p *Pipeline) Equipment() []*equipment.Equipment { return p.equipments }

func orDefaultDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func orDefaultU32(v, def uint32) uint32 {
	if v == 0 {
		return def
	}
	return v
}
