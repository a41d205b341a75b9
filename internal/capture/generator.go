// Package capture runs capture jobs: it loads each configured world, spawns
// every scene repetition, steps it tick by tick and writes keyframe samples,
// sensor captures and annotations into the dataset graph, checkpointing
// progress after every repetition so an interrupted job can resume.
package capture

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/banshee-data/scenecapture/internal/config"
	"github.com/banshee-data/scenecapture/internal/dataset"
	"github.com/banshee-data/scenecapture/internal/monitoring"
	"github.com/banshee-data/scenecapture/internal/progress"
	"github.com/banshee-data/scenecapture/internal/sim"
	"github.com/banshee-data/scenecapture/internal/timeutil"
)

// Summary reports what a run did.
type Summary struct {
	RunID          string
	Resumed        progress.Cursor
	Cursor         progress.Cursor
	Repetitions    int
	FailedScenes   int
	FailedCaptures int
	FailedWorlds   int
}

// Generator is the scene orchestrator.
type Generator struct {
	cfg     *config.Config
	backend sim.Backend
	store   dataset.Store
	journal progress.Journal
	log     *zap.SugaredLogger
	metrics *monitoring.Metrics
	clock   timeutil.Clock

	modalities map[string]sim.Modality
}

type Option func(*Generator)

func WithLogger(l *zap.SugaredLogger) Option { return func(g *Generator) { g.log = l } }

func WithMetrics(m *monitoring.Metrics) Option { return func(g *Generator) { g.metrics = m } }

// WithJournal records every caught failure in j.
func WithJournal(j progress.Journal) Option { return func(g *Generator) { g.journal = j } }

// WithClock overrides the source of failure timestamps and capture timings.
func WithClock(c timeutil.Clock) Option { return func(g *Generator) { g.clock = c } }

func NewGenerator(cfg *config.Config, backend sim.Backend, store dataset.Store, opts ...Option) *Generator {
	g := &Generator{cfg: cfg, backend: backend, store: store, clock: timeutil.RealClock{}}
	for _, o := range opts {
		o(g)
	}
	g.log = monitoring.OrNop(g.log)
	if g.metrics == nil {
		g.metrics = monitoring.Unregistered()
	}
	if g.journal == nil {
		g.journal = &progress.MemoryJournal{}
	}
	g.modalities = make(map[string]sim.Modality, len(cfg.Sensors))
	for _, s := range cfg.Sensors {
		g.modalities[s.Name] = sim.Modality(s.Modality)
	}
	return g
}

// run is the state of one Run call.
type run struct {
	id      string
	tracker *progress.Tracker
	builder *dataset.Builder
	summary Summary
}

// Run executes every unit of work after the persisted cursor. Failures of
// single scenes, captures or worlds are logged and recorded and the run
// moves on; it returns an error only when the context is cancelled or the
// store cannot be read or written for the registrations.
func (g *Generator) Run(ctx context.Context) (Summary, error) {
	resume, err := g.store.LoadProgress(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load progress: %w", err)
	}
	r := &run{
		id:      uuid.NewString(),
		tracker: progress.NewTracker(resume),
		builder: dataset.NewBuilder(g.store),
	}
	r.summary.RunID = r.id
	r.summary.Resumed = r.tracker.Resumed()
	g.log.Infow("starting capture run", "run_id", r.id, "resume", r.summary.Resumed.String())

	if err := g.register(ctx, r.builder); err != nil {
		return r.summary, fmt.Errorf("register dataset entries: %w", err)
	}
	if err := g.flush(ctx, r); err != nil {
		return r.summary, fmt.Errorf("commit registrations: %w", err)
	}

	worlds := r.tracker.Worlds()
	for _, wi := range worlds.Remaining(len(g.cfg.Worlds)) {
		worlds.Enter(wi)
		err := guard(func() error { return g.runWorld(ctx, r, wi) })
		if ctx.Err() != nil {
			return r.summary, ctx.Err()
		}
		if err != nil {
			r.summary.FailedWorlds++
			g.fail(ctx, r, progress.LevelWorld, err)
		}
		worlds.Complete()
		g.metrics.UnitsCompleted.WithLabelValues(progress.LevelWorld.String()).Inc()
		if err := g.flush(ctx, r); err != nil {
			if ctx.Err() != nil {
				return r.summary, ctx.Err()
			}
			return r.summary, fmt.Errorf("commit world %d: %w", wi, err)
		}
	}
	r.summary.Cursor = r.tracker.Cursor()
	g.log.Infow("capture run finished",
		"run_id", r.id,
		"repetitions", r.summary.Repetitions,
		"failed_scenes", r.summary.FailedScenes,
		"failed_captures", r.summary.FailedCaptures,
		"failed_worlds", r.summary.FailedWorlds,
		"cursor", r.summary.Cursor.String())
	return r.summary, nil
}

func (g *Generator) register(ctx context.Context, b *dataset.Builder) error {
	for _, s := range g.cfg.Sensors {
		if _, err := b.RegisterSensor(ctx, s.Name, s.Modality); err != nil {
			return err
		}
	}
	for _, c := range g.cfg.Categories {
		if _, err := b.RegisterCategory(ctx, c.Name, c.Description); err != nil {
			return err
		}
	}
	for _, a := range g.cfg.Attributes {
		if _, err := b.RegisterAttribute(ctx, a.Name, a.Description); err != nil {
			return err
		}
	}
	for _, v := range g.cfg.Visibility {
		if _, err := b.RegisterVisibility(ctx, v.Token, v.Level, v.Description); err != nil {
			return err
		}
	}
	return nil
}

// flush commits staged rows with the durable cursor.
func (g *Generator) flush(ctx context.Context, r *run) error {
	start := g.clock.Now()
	cursor := r.tracker.Cursor()
	if err := r.builder.Flush(ctx, cursor); err != nil {
		return err
	}
	g.metrics.CommitDuration.Observe(g.clock.Since(start).Seconds())
	g.metrics.CursorPosition.WithLabelValues(progress.LevelWorld.String()).Set(float64(cursor.World))
	g.metrics.CursorPosition.WithLabelValues(progress.LevelCapture.String()).Set(float64(cursor.Capture))
	g.metrics.CursorPosition.WithLabelValues(progress.LevelScene.String()).Set(float64(cursor.Scene))
	g.metrics.CursorPosition.WithLabelValues(progress.LevelRepetition.String()).Set(float64(cursor.Repetition))
	return nil
}

func (g *Generator) runWorld(ctx context.Context, r *run, wi int) (err error) {
	wc := g.cfg.Worlds[wi]
	world, err := g.backend.LoadWorld(ctx, sim.WorldSpec{
		MapName:           wc.MapName,
		FixedDeltaSeconds: wc.GetFixedDeltaSeconds(),
		Settings:          wc.Settings,
	})
	if err != nil {
		return errors.Wrapf(err, "load world %q", wc.MapName)
	}
	defer func() {
		if uerr := g.backend.UnloadWorld(context.WithoutCancel(ctx), world); uerr != nil {
			g.log.Errorw("failed to unload world", "world", wi, "map", wc.MapName, "error", uerr)
			if err == nil {
				err = errors.Wrapf(uerr, "unload world %q", wc.MapName)
			}
		}
	}()
	g.log.Infow("world loaded", "world", wi, "map", wc.MapName, "fixed_delta_seconds", world.FixedDeltaSeconds())

	mapToken, err := r.builder.UpsertMap(ctx, wc.MapName, wc.MapCategory)
	if err != nil {
		return errors.Wrapf(err, "upsert map %q", wc.MapName)
	}

	captures := r.tracker.Captures()
	for _, ci := range captures.Remaining(len(wc.Captures)) {
		captures.Enter(ci)
		cerr := guard(func() error { return g.runCapture(ctx, r, world, mapToken, wi, ci) })
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if cerr != nil {
			r.summary.FailedCaptures++
			g.fail(ctx, r, progress.LevelCapture, cerr)
		}
		before := r.tracker.Cursor()
		captures.Complete()
		g.metrics.UnitsCompleted.WithLabelValues(progress.LevelCapture.String()).Inc()
		if err := g.flush(ctx, r); err != nil {
			r.tracker.FreezeAt(before)
			return errors.Wrapf(err, "commit capture %d", ci)
		}
	}
	return nil
}

func (g *Generator) runCapture(ctx context.Context, r *run, world sim.World, mapToken string, wi, ci int) error {
	cc := g.cfg.Worlds[wi].Captures[ci]
	logToken, err := r.builder.UpsertLog(ctx, mapToken, dataset.LogInfo{
		Vehicle:  cc.CaptureVehicle,
		Date:     cc.Date,
		Time:     cc.Time,
		Timezone: cc.Timezone,
		Location: cc.Location,
	})
	if err != nil {
		return errors.Wrap(err, "upsert log")
	}

	scenes := r.tracker.Scenes()
	for _, si := range scenes.Remaining(len(cc.Scenes)) {
		scenes.Enter(si)
		sc := cc.Scenes[si]
		reps := r.tracker.Repetitions()
		for _, rep := range reps.Remaining(sc.Count) {
			reps.Enter(rep)
			log := g.log.With("world", wi, "capture", ci, "scene", si, "repetition", rep)
			sceneToken := dataset.SceneToken(logToken, si, rep)

			start := g.clock.Now()
			serr := guard(func() error { return g.runScene(ctx, r, world, logToken, sceneToken, sc, log) })
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if serr != nil {
				r.builder.DiscardScene(sceneToken)
				r.summary.FailedScenes++
				g.fail(ctx, r, progress.LevelScene, serr)
			} else {
				r.summary.Repetitions++
				g.metrics.SceneDuration.Observe(g.clock.Since(start).Seconds())
				log.Infow("scene captured", "scene_token", sceneToken, "elapsed", g.clock.Since(start))
			}
			before := r.tracker.Cursor()
			reps.Complete()
			g.metrics.UnitsCompleted.WithLabelValues(progress.LevelRepetition.String()).Inc()
			if err := g.flush(ctx, r); err != nil {
				r.builder.DiscardScene(sceneToken)
				r.tracker.FreezeAt(before)
				return errors.Wrapf(err, "commit scene %d repetition %d", si, rep)
			}
		}
		scenes.Complete()
		g.metrics.UnitsCompleted.WithLabelValues(progress.LevelScene.String()).Inc()
	}
	return nil
}

func (g *Generator) runScene(ctx context.Context, r *run, world sim.World, logToken, sceneToken string, sc config.Scene, log *zap.SugaredLogger) (err error) {
	timing, err := NewTiming(sc.CollectTime, sc.KeyframeTime, world.FixedDeltaSeconds())
	if err != nil {
		return errors.WithStack(err)
	}
	live := r.tracker.Live()
	name := fmt.Sprintf("scene-%d-%d-%d-%d", live.World, live.Capture, live.Scene, live.Repetition)
	if _, err := r.builder.UpsertScene(ctx, logToken, live.Scene, live.Repetition, name, sc.Description); err != nil {
		return errors.Wrap(err, "upsert scene")
	}

	spawner := NewSpawner(g.sceneRand(live), g.cfg.Spawn, g.modalities, log, g.metrics)
	spawned, err := spawner.Spawn(ctx, world, sc)
	defer func() {
		if terr := spawner.Teardown(context.WithoutCancel(ctx), world, spawned); terr != nil && err == nil {
			err = errors.Wrap(terr, "teardown")
		}
	}()
	if err != nil {
		return err
	}
	log.Debugw("scene spawned",
		"scene_token", sceneToken,
		"vehicles", len(spawned.Vehicles),
		"walkers", len(spawned.Walkers),
		"sensors", len(spawned.Sensors),
		"ticks", timing.TotalTicks)

	scx, err := NewSceneContext(ctx, r.builder, world, sceneToken, spawned)
	if err != nil {
		return errors.WithStack(err)
	}
	return NewStepper(r.builder, log, g.metrics).Run(ctx, scx, timing)
}

// sceneRand seeds a generator from the configured seed and the unit being
// executed, so a re-executed repetition spawns the same scene.
func (g *Generator) sceneRand(c progress.Cursor) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(c.String()))
	return rand.New(rand.NewSource(g.cfg.Client.GetSeed() ^ int64(h.Sum64())))
}

// fail logs and journals err for the executing unit at level. World and
// capture failures pin the durable cursor so a restart retries the unit.
func (g *Generator) fail(ctx context.Context, r *run, level progress.Level, err error) {
	live := r.tracker.Live()
	if level < progress.LevelScene {
		r.tracker.Freeze()
	}
	g.metrics.Failures.WithLabelValues(level.String()).Inc()
	g.log.Errorw(fmt.Sprintf("%s failed", level),
		"run_id", r.id,
		"world", live.World,
		"capture", live.Capture,
		"scene", live.Scene,
		"repetition", live.Repetition,
		"error", fmt.Sprintf("%+v", err))
	f := progress.Failure{RunID: r.id, Level: level, Cursor: live, Message: err.Error(), At: g.clock.Now()}
	if jerr := g.journal.RecordFailure(context.WithoutCancel(ctx), f); jerr != nil {
		g.log.Warnw("failed to record failure", "run_id", r.id, "error", jerr)
	}
}

// guard runs fn, converting a panic into an error that carries its stack.
func guard(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			if perr, ok := p.(error); ok {
				err = errors.Wrap(perr, "panic")
				return
			}
			err = errors.Errorf("panic: %v", p)
		}
	}()
	return fn()
}
