package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/banshee-data/scenecapture/internal/progress"
)

type staged struct {
	scene string
	value any
}

// Builder owns creation and linkage of dataset rows. Rows are staged in
// memory and made durable together with the progress cursor by Flush.
//
// Chain operations take the token returned by the previous call in the same
// chain; an empty prev starts a new chain. Skipping a link is a caller error
// that is not detected here. Sensors, categories, attributes, visibility bins
// and logs must be registered before a row references them; otherwise the
// call fails with ErrUnknownToken.
type Builder struct {
	store   Store
	pending map[rowKey]*staged
	order   []rowKey
	// replace holds scenes created since the last flush. Their persisted rows
	// are deleted before the staged ones are written.
	replace map[string]bool
}

func NewBuilder(store Store) *Builder {
	return &Builder{
		store:   store,
		pending: make(map[rowKey]*staged),
		replace: make(map[string]bool),
	}
}

func (b *Builder) stage(kind Kind, token, scene string, value any) {
	k := rowKey{kind, token}
	if s, ok := b.pending[k]; ok {
		s.scene, s.value = scene, value
		return
	}
	b.pending[k] = &staged{scene: scene, value: value}
	b.order = append(b.order, k)
}

// fetch returns the staged row of kind/token, hydrating it from the store
// and staging it when it is only persisted.
func fetch[T any](ctx context.Context, b *Builder, kind Kind, token string) (*T, error) {
	if s, ok := b.pending[rowKey{kind, token}]; ok {
		v, ok := s.value.(*T)
		if !ok {
			return nil, fmt.Errorf("staged %s %s has type %T", kind, token, s.value)
		}
		return v, nil
	}
	row, ok, err := b.store.Lookup(ctx, kind, token)
	if err != nil {
		return nil, fmt.Errorf("lookup %s %s: %w", kind, token, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", kind, token, ErrUnknownToken)
	}
	v := new(T)
	if err := json.Unmarshal(row.Body, v); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", kind, token, err)
	}
	b.stage(kind, token, row.SceneToken, v)
	return v, nil
}

func (b *Builder) exists(ctx context.Context, kind Kind, token string) (bool, error) {
	if _, ok := b.pending[rowKey{kind, token}]; ok {
		return true, nil
	}
	_, ok, err := b.store.Lookup(ctx, kind, token)
	if err != nil {
		return false, fmt.Errorf("lookup %s %s: %w", kind, token, err)
	}
	return ok, nil
}

func (b *Builder) requireRegistered(ctx context.Context, kind Kind, token string) error {
	ok, err := b.exists(ctx, kind, token)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s %q: %w", kind, token, ErrUnknownToken)
	}
	return nil
}

// register stages a registration row unless one with the same token exists.
func (b *Builder) register(ctx context.Context, kind Kind, token string, value any) (string, error) {
	ok, err := b.exists(ctx, kind, token)
	if err != nil {
		return "", err
	}
	if !ok {
		b.stage(kind, token, "", value)
	}
	return token, nil
}

// RegisterSensor registers a sensor type by channel name.
func (b *Builder) RegisterSensor(ctx context.Context, channel, modality string) (string, error) {
	t := Token(KindSensor, channel)
	return b.register(ctx, KindSensor, t, &Sensor{Token: t, Channel: channel, Modality: modality})
}

func (b *Builder) RegisterCategory(ctx context.Context, name, description string) (string, error) {
	t := Token(KindCategory, name)
	return b.register(ctx, KindCategory, t, &Category{Token: t, Name: name, Description: description})
}

func (b *Builder) RegisterAttribute(ctx context.Context, name, description string) (string, error) {
	t := Token(KindAttribute, name)
	return b.register(ctx, KindAttribute, t, &Attribute{Token: t, Name: name, Description: description})
}

// RegisterVisibility registers a visibility bin. Its token is the decimal
// quantized level so annotations can reference it directly.
func (b *Builder) RegisterVisibility(ctx context.Context, level int, name, description string) (string, error) {
	t := VisibilityToken(level)
	return b.register(ctx, KindVisibility, t, &Visibility{Token: t, Level: name, Description: description})
}

// VisibilityToken returns the token of the visibility bin for a quantized level.
func VisibilityToken(level int) string { return strconv.Itoa(level) }

// UpsertMap creates the map row for name or returns the existing one with its
// log list intact.
func (b *Builder) UpsertMap(ctx context.Context, name, category string) (string, error) {
	t := Token(KindMap, name)
	ok, err := b.exists(ctx, KindMap, t)
	if err != nil {
		return "", err
	}
	if !ok {
		b.stage(KindMap, t, "", &Map{
			Token:     t,
			Name:      name,
			Category:  category,
			Filename:  path.Join("maps", name+".png"),
			LogTokens: []string{},
		})
		return t, nil
	}
	m, err := fetch[Map](ctx, b, KindMap, t)
	if err != nil {
		return "", err
	}
	m.Category = category
	return t, nil
}

// LogInfo describes one capture session.
type LogInfo struct {
	Vehicle  string
	Date     string
	Time     string
	Timezone string
	Location string
}

// UpsertLog creates the log row for a capture session and links it from its map.
func (b *Builder) UpsertLog(ctx context.Context, mapToken string, info LogInfo) (string, error) {
	m, err := fetch[Map](ctx, b, KindMap, mapToken)
	if err != nil {
		return "", err
	}
	t := Token(KindLog, mapToken, info.Vehicle, info.Date, info.Time, info.Timezone, info.Location)
	b.stage(KindLog, t, "", &Log{
		Token:        t,
		Logfile:      "",
		Vehicle:      info.Vehicle,
		DateCaptured: info.Date,
		TimeCaptured: info.Time,
		Timezone:     info.Timezone,
		Location:     info.Location,
		MapToken:     mapToken,
	})
	for _, lt := range m.LogTokens {
		if lt == t {
			return t, nil
		}
	}
	m.LogTokens = append(m.LogTokens, t)
	return t, nil
}

// SceneToken returns the token of repetition rep of scene index sceneIndex in a log.
func SceneToken(logToken string, sceneIndex, rep int) string {
	return Token(KindScene, logToken, itoa(sceneIndex), itoa(rep))
}

// UpsertScene starts a scene repetition with an empty sample chain. Rows
// persisted earlier for the same scene token are replaced on the next Flush.
func (b *Builder) UpsertScene(ctx context.Context, logToken string, sceneIndex, rep int, name, description string) (string, error) {
	ok, err := b.exists(ctx, KindLog, logToken)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("log %s: %w", logToken, ErrUnknownToken)
	}
	t := SceneToken(logToken, sceneIndex, rep)
	b.discardStaged(t)
	b.stage(KindScene, t, t, &Scene{Token: t, LogToken: logToken, Name: name, Description: description})
	b.replace[t] = true
	return t, nil
}

// UpsertCalibratedSensor records a sensor mount for one scene. A nil
// intrinsic is stored as an empty matrix.
func (b *Builder) UpsertCalibratedSensor(ctx context.Context, sceneToken, channel string, translation [3]float64, rotation [4]float64, intrinsic [][]float64) (string, error) {
	sensorToken := Token(KindSensor, channel)
	ok, err := b.exists(ctx, KindSensor, sensorToken)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("sensor %q: %w", channel, ErrUnknownToken)
	}
	if intrinsic == nil {
		intrinsic = [][]float64{}
	}
	t := Token(KindCalibratedSensor, sceneToken, channel)
	b.stage(KindCalibratedSensor, t, sceneToken, &CalibratedSensor{
		Token:           t,
		SensorToken:     sensorToken,
		Translation:     translation,
		Rotation:        rotation,
		CameraIntrinsic: intrinsic,
	})
	return t, nil
}

// UpsertInstance records one simulated actor for the lifetime of a scene.
func (b *Builder) UpsertInstance(ctx context.Context, sceneToken, categoryToken string, actorID uint32) (string, error) {
	if err := b.requireRegistered(ctx, KindCategory, categoryToken); err != nil {
		return "", err
	}
	t :=Token(KindInstance, sceneToken, strconv.FormatUint(uint64(actorID), 10))
	b.stage(KindInstance, t, sceneToken, &Instance{Token: t, CategoryToken: categoryToken})
	return t, nil
}

// UpsertEgoPose records the ego pose at the instant a sensor captured data.
func (b *Builder) UpsertEgoPose(ctx context.Context, sceneToken, calibratedSensorToken string, timestamp int64, rotation [4]float64, translation [3]float64) (string, error) {
	t := Token(KindEgoPose, calibratedSensorToken, i64toa(timestamp))
	b.stage(KindEgoPose, t, sceneToken, &EgoPose{Token: t, Timestamp: timestamp, Rotation: rotation, Translation: translation})
	return t, nil
}

// AppendSample adds a keyframe to the scene's sample chain.
func (b *Builder) AppendSample(ctx context.Context, prev, sceneToken string, timestamp int64) (string, error) {
	scene, err := fetch[Scene](ctx, b, KindScene, sceneToken)
	if err != nil {
		return "", err
	}
	t := Token(KindSample, sceneToken, i64toa(timestamp))
	if prev != "" {
		p, err := fetch[Sample](ctx, b, KindSample, prev)
		if err != nil {
			return "", err
		}
		p.Next = t
	}
	b.stage(KindSample, t, sceneToken, &Sample{Token: t, Timestamp: timestamp, SceneToken: sceneToken, Prev: prev})

	if scene.FirstSampleToken == "" {
		scene.FirstSampleToken = t
	}
	scene.LastSampleToken = t
	scene.NbrSamples++
	return t, nil
}

// SampleDataInfo describes one sensor capture.
type SampleDataInfo struct {
	SceneToken            string
	SampleToken           string
	EgoPoseToken          string
	CalibratedSensorToken string
	Channel               string
	Modality              string
	Timestamp             int64
	IsKeyFrame            bool
	Height                int
	Width                 int
}

// FileFormat returns the stored file extension for a sensor modality.
func FileFormat(modality string) string {
	if modality == "camera" {
		return "jpg"
	}
	return "pcd"
}

// SampleDataFilename returns the relative path of a capture file. Keyframe
// captures live under samples/, the rest under sweeps/.
func SampleDataFilename(channel, token, format string, keyFrame bool) string {
	dir := "sweeps"
	if keyFrame {
		dir = "samples"
	}
	return path.Join(dir, strings.ToUpper(channel), token+"."+format)
}

// AppendSampleData adds a capture to its sensor's chain.
func (b *Builder) AppendSampleData(ctx context.Context, prev string, info SampleDataInfo) (string, error) {
	t := Token(KindSampleData, info.CalibratedSensorToken, i64toa(info.Timestamp))
	if prev != "" {
		p, err := fetch[SampleData](ctx, b, KindSampleData, prev)
		if err != nil {
			return "", err
		}
		p.Next = t
	}
	format := FileFormat(info.Modality)
	b.stage(KindSampleData, t, info.SceneToken, &SampleData{
		Token:                 t,
		SampleToken:           info.SampleToken,
		EgoPoseToken:          info.EgoPoseToken,
		CalibratedSensorToken: info.CalibratedSensorToken,
		Timestamp:             info.Timestamp,
		Fileformat:            format,
		IsKeyFrame:            info.IsKeyFrame,
		Height:                info.Height,
		Width:                 info.Width,
		Filename:              SampleDataFilename(info.Channel, t, format, info.IsKeyFrame),
		Prev:                  prev,
	})
	return t, nil
}

// AnnotationInfo describes one instance at one keyframe.
type AnnotationInfo struct {
	SceneToken      string
	SampleToken     string
	InstanceToken   string
	VisibilityToken string
	AttributeTokens []string
	Translation     [3]float64
	Rotation        [4]float64
	Size            [3]float64
	NumLidarPts     int
	NumRadarPts     int
}

// AppendSampleAnnotation adds an annotation to its instance's chain.
func (b *Builder) AppendSampleAnnotation(ctx context.Context, prev string, info AnnotationInfo) (string, error) {
	inst, err := fetch[Instance](ctx, b, KindInstance, info.InstanceToken)
	if err != nil {
		return "", err
	}
	if err := b.requireRegistered(ctx, KindVisibility, info.VisibilityToken); err != nil {
		return "", err
	}
	for _, a := range info.AttributeTokens {
		if err := b.requireRegistered(ctx, KindAttribute, a); err != nil {
			return "", err
		}
	}
	t := Token(KindSampleAnnotation, info.InstanceToken, info.SampleToken)
	if prev != "" {
		p, err := fetch[SampleAnnotation](ctx, b, KindSampleAnnotation, prev)
		if err != nil {
			return "", err
		}
		p.Next = t
	}
	attrs := info.AttributeTokens
	if attrs == nil {
		attrs = []string{}
	}
	b.stage(KindSampleAnnotation, t, info.SceneToken, &SampleAnnotation{
		Token:           t,
		SampleToken:     info.SampleToken,
		InstanceToken:   info.InstanceToken,
		VisibilityToken: info.VisibilityToken,
		AttributeTokens: attrs,
		Translation:     info.Translation,
		Size:            info.Size,
		Rotation:        info.Rotation,
		Prev:            prev,
		NumLidarPts:     info.NumLidarPts,
		NumRadarPts:     info.NumRadarPts,
	})

	if inst.FirstAnnotationToken == "" {
		inst.FirstAnnotationToken = t
	}
	inst.LastAnnotationToken = t
	inst.NbrAnnotations++
	return t, nil
}

// Pending returns the number of staged rows.
func (b *Builder) Pending() int { return len(b.order) }

// DiscardScene drops every staged row owned by sceneToken. Rows already
// persisted for that scene are left untouched.
func (b *Builder) DiscardScene(sceneToken string) {
	b.discardStaged(sceneToken)
	delete(b.replace, sceneToken)
}

func (b *Builder) discardStaged(sceneToken string) {
	kept := b.order[:0]
	for _, k := range b.order {
		if s := b.pending[k]; s.scene == sceneToken {
			delete(b.pending, k)
			continue
		}
		kept = append(kept, k)
	}
	b.order = kept
}

// Flush commits every staged row together with cursor. On failure the staged
// rows are kept so the caller can discard or retry them.
func (b *Builder) Flush(ctx context.Context, cursor progress.Cursor) error {
	rows := make([]Row, 0, len(b.order))
	for _, k := range b.order {
		s := b.pending[k]
		body, err := json.Marshal(s.value)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", k.kind, k.token, err)
		}
		rows = append(rows, Row{Kind: k.kind, Token: k.token, SceneToken: s.scene, Body: body})
	}
	replace := make([]string, 0, len(b.replace))
	for _, k := range b.order {
		if k.kind == KindScene && b.replace[k.token] {
			replace = append(replace, k.token)
		}
	}
	if err := b.store.Commit(ctx, cursor, replace, rows); err != nil {
		return fmt.Errorf("commit %d rows: %w", len(rows), err)
	}
	b.pending = make(map[rowKey]*staged)
	b.order = nil
	b.replace = make(map[string]bool)
	return nil
}
