package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scenecapture/internal/progress"
)

func TestTokenDeterministic(t *testing.T) {
	a := Token(KindCategory, "vehicle.car")
	b := Token(KindCategory, "vehicle.car")
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
	assert.NotContains(t, a, "-")

	assert.NotEqual(t, a, Token(KindAttribute, "vehicle.car"), "kind must participate in the token")
	assert.NotEqual(t, Token(KindInstance, "ab", "c"), Token(KindInstance, "a", "bc"), "parts must be delimited")
}

func TestRegistrationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	b := NewBuilder(store)

	first, err := b.RegisterCategory(ctx, "vehicle.car", "cars")
	require.NoError(t, err)
	second, err := b.RegisterCategory(ctx, "vehicle.car", "a different description")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, b.Pending())

	require.NoError(t, b.Flush(ctx, progress.Cursor{}))

	// A new builder over the same store sees the persisted row and stages nothing.
	b2 := NewBuilder(store)
	third, err := b2.RegisterCategory(ctx, "vehicle.car", "again")
	require.NoError(t, err)
	assert.Equal(t, first, third)
	assert.Equal(t, 0, b2.Pending())

	cats, err := ReadAll[Category](ctx, store, KindCategory)
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, "cars", cats[0].Description)
}

type fixture struct {
	builder    *Builder
	store      *MemoryStore
	logToken   string
	category   string
	visibility string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryStore()
	b := NewBuilder(store)

	_, err := b.RegisterSensor(ctx, "LIDAR_TOP", "lidar")
	require.NoError(t, err)
	_, err = b.RegisterSensor(ctx, "CAM_FRONT", "camera")
	require.NoError(t, err)
	cat, err := b.RegisterCategory(ctx, "vehicle.car", "")
	require.NoError(t, err)
	_, err = b.RegisterAttribute(ctx, "vehicle.moving", "")
	require.NoError(t, err)
	for lvl, name := range []string{"v0-40", "v40-60", "v60-80", "v80-100"} {
		_, err = b.RegisterVisibility(ctx, lvl+1, name, "")
		require.NoError(t, err)
	}
	mapToken, err := b.UpsertMap(ctx, "Town01", "semantic_prior")
	require.NoError(t, err)
	logToken, err := b.UpsertLog(ctx, mapToken, LogInfo{Vehicle: "ego", Date: "2024-01-01", Time: "12:00:00", Timezone: "UTC", Location: "town01"})
	require.NoError(t, err)
	require.NoError(t, b.Flush(ctx, progress.Cursor{}))

	return &fixture{builder: b, store: store, logToken: logToken, category: cat, visibility: VisibilityToken(4)}
}

// captureScene builds one scene with samples keyframes, two captures per
// sensor per keyframe, and one instance annotated on every other keyframe.
func (f *fixture) captureScene(t *testing.T, rep, samples int) string {
	t.Helper()
	ctx := context.Background()
	b := f.builder

	scene, err := b.UpsertScene(ctx, f.logToken, 0, rep, "scene-0000", "test scene")
	require.NoError(t, err)
	lidarCS, err := b.UpsertCalibratedSensor(ctx, scene, "LIDAR_TOP", [3]float64{0, 0, 1.8}, [4]float64{1, 0, 0, 0}, nil)
	require.NoError(t, err)
	camCS, err := b.UpsertCalibratedSensor(ctx, scene, "CAM_FRONT", [3]float64{1.5, 0, 1.6}, [4]float64{0.5, -0.5, 0.5, -0.5}, [][]float64{{800, 0, 800}, {0, 800, 450}, {0, 0, 1}})
	require.NoError(t, err)
	inst, err := b.UpsertInstance(ctx, scene, f.category, 42)
	require.NoError(t, err)

	sample, lidarData, camData, ann := "", "", "", ""
	for i := 1; i <= samples; i++ {
		ts := int64(i) * 500000
		sample, err = b.AppendSample(ctx, sample, scene, ts)
		require.NoError(t, err)
		for j := int64(1); j >= 0; j-- {
			capTS := ts - j*10000
			for _, s := range []struct {
				cs, channel, modality string
				prev                  *string
			}{
				{lidarCS, "LIDAR_TOP", "lidar", &lidarData},
				{camCS, "CAM_FRONT", "camera", &camData},
			} {
				pose, err := b.UpsertEgoPose(ctx, scene, s.cs, capTS, [4]float64{1, 0, 0, 0}, [3]float64{float64(i), 0, 0})
				require.NoError(t, err)
				*s.prev, err = b.AppendSampleData(ctx, *s.prev, SampleDataInfo{
					SceneToken: scene, SampleToken: sample, EgoPoseToken: pose,
					CalibratedSensorToken: s.cs, Channel: s.channel, Modality: s.modality,
					Timestamp: capTS, IsKeyFrame: j == 0,
				})
				require.NoError(t, err)
			}
		}
		if i%2 == 1 {
			ann, err = b.AppendSampleAnnotation(ctx, ann, AnnotationInfo{
				SceneToken: scene, SampleToken: sample, InstanceToken: inst,
				VisibilityToken: f.visibility, AttributeTokens: []string{Token(KindAttribute, "vehicle.moving")},
				Size: [3]float64{2, 4.5, 1.6}, NumLidarPts: 10,
			})
			require.NoError(t, err)
		}
	}
	return scene
}

func TestSceneChainsAreWellFormed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	scene := f.captureScene(t, 0, 3)
	require.NoError(t, f.builder.Flush(ctx, progress.Cursor{Repetition: 1}))

	problems, err := Verify(ctx, f.store)
	require.NoError(t, err)
	assert.Empty(t, problems)

	scenes, err := ReadAll[Scene](ctx, f.store, KindScene)
	require.NoError(t, err)
	require.Len(t, scenes, 1)
	assert.Equal(t, scene, scenes[0].Token)
	assert.Equal(t, 3, scenes[0].NbrSamples)

	samples, err := ReadAll[Sample](ctx, f.store, KindSample)
	require.NoError(t, err)
	byToken := map[string]Sample{}
	for _, s := range samples {
		byToken[s.Token] = s
	}
	first := byToken[scenes[0].FirstSampleToken]
	assert.Empty(t, first.Prev)
	last := byToken[scenes[0].LastSampleToken]
	assert.Empty(t, last.Next)
	assert.Equal(t, int64(1500000), last.Timestamp)

	instances, err := ReadAll[Instance](ctx, f.store, KindInstance)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, 2, instances[0].NbrAnnotations)

	cursor, err := f.store.LoadProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, progress.Cursor{Repetition: 1}, cursor)
}

func TestSampleDataFields(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.captureScene(t, 0, 1)
	require.NoError(t, f.builder.Flush(ctx, progress.Cursor{}))

	data, err := ReadAll[SampleData](ctx, f.store, KindSampleData)
	require.NoError(t, err)
	require.Len(t, data, 4)
	keyframes := 0
	for _, sd := range data {
		switch {
		case strings.Contains(sd.Filename, "CAM_FRONT"):
			assert.Equal(t, "jpg", sd.Fileformat)
		default:
			assert.Equal(t, "pcd", sd.Fileformat)
		}
		if sd.IsKeyFrame {
			keyframes++
			assert.True(t, strings.HasPrefix(sd.Filename, "samples/"), sd.Filename)
		} else {
			assert.True(t, strings.HasPrefix(sd.Filename, "sweeps/"), sd.Filename)
		}
		assert.True(t, strings.HasSuffix(sd.Filename, sd.Token+"."+sd.Fileformat), sd.Filename)
	}
	assert.Equal(t, 2, keyframes, "one keyframe capture per sensor")

	cs, err := ReadAll[CalibratedSensor](ctx, f.store, KindCalibratedSensor)
	require.NoError(t, err)
	for _, c := range cs {
		assert.NotNil(t, c.CameraIntrinsic, "intrinsic must encode as a list")
	}
}

func TestRerunReplacesScene(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.captureScene(t, 0, 3)
	require.NoError(t, f.builder.Flush(ctx, progress.Cursor{}))
	before, err := f.store.Rows(ctx, KindSampleData)
	require.NoError(t, err)

	// Re-executing the same repetition with fewer keyframes leaves no stale rows.
	f.captureScene(t, 0, 2)
	require.NoError(t, f.builder.Flush(ctx, progress.Cursor{}))

	after, err := f.store.Rows(ctx, KindSampleData)
	require.NoError(t, err)
	assert.Len(t, before, 12)
	assert.Len(t, after, 8)

	problems, err := Verify(ctx, f.store)
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestDiscardSceneKeepsOtherRows(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	kept := f.captureScene(t, 0, 2)
	require.NoError(t, f.builder.Flush(ctx, progress.Cursor{}))

	dropped := f.captureScene(t, 1, 2)
	_, err := f.builder.RegisterCategory(ctx, "human.pedestrian.adult", "")
	require.NoError(t, err)
	f.builder.DiscardScene(dropped)
	assert.Equal(t, 1, f.builder.Pending(), "only the registration survives the discard")
	require.NoError(t, f.builder.Flush(ctx, progress.Cursor{Repetition: 2}))

	scenes, err := ReadAll[Scene](ctx, f.store, KindScene)
	require.NoError(t, err)
	require.Len(t, scenes, 1)
	assert.Equal(t, kept, scenes[0].Token)

	problems, err := Verify(ctx, f.store)
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestMapKeepsLogTokensAcrossBuilders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	b := NewBuilder(f.store)
	mapToken, err := b.UpsertMap(ctx, "Town01", "semantic_prior")
	require.NoError(t, err)
	second, err := b.UpsertLog(ctx, mapToken, LogInfo{Vehicle: "ego", Date: "2024-01-02"})
	require.NoError(t, err)
	again, err := b.UpsertLog(ctx, mapToken, LogInfo{Vehicle: "ego", Date: "2024-01-02"})
	require.NoError(t, err)
	assert.Equal(t, second, again)
	require.NoError(t, b.Flush(ctx, progress.Cursor{}))

	maps, err := ReadAll[Map](ctx, f.store, KindMap)
	require.NoError(t, err)
	require.Len(t, maps, 1)
	assert.Equal(t, []string{f.logToken, second}, maps[0].LogTokens)
}

func TestChainErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.builder

	_, err := b.AppendSample(ctx, "", "missing-scene", 1)
	assert.True(t, errors.Is(err, ErrUnknownToken), "got %v", err)

	scene, err := b.UpsertScene(ctx, f.logToken, 3, 0, "s", "")
	require.NoError(t, err)
	_, err = b.AppendSample(ctx, "no-such-prev", scene, 1)
	assert.True(t, errors.Is(err, ErrUnknownToken), "got %v", err)

	_, err = b.UpsertScene(ctx, "no-such-log", 0, 0, "s", "")
	assert.True(t, errors.Is(err, ErrUnknownToken), "got %v", err)

	_, err = b.UpsertCalibratedSensor(ctx, scene, "RADAR_FRONT", [3]float64{}, [4]float64{1}, nil)
	assert.True(t, errors.Is(err, ErrUnknownToken), "unregistered sensor: got %v", err)

	_, err = b.UpsertInstance(ctx, scene, Token(KindCategory, "vehicle.bicycle"), 1)
	assert.True(t, errors.Is(err, ErrUnknownToken), "unregistered category: got %v", err)

	inst, err := b.UpsertInstance(ctx, scene, f.category, 1)
	require.NoError(t, err)
	sample, err := b.AppendSample(ctx, "", scene, 1)
	require.NoError(t, err)
	ann := AnnotationInfo{SceneToken: scene, SampleToken: sample, InstanceToken: inst, VisibilityToken: VisibilityToken(5)}
	_, err = b.AppendSampleAnnotation(ctx, "", ann)
	assert.True(t, errors.Is(err, ErrUnknownToken), "unregistered visibility: got %v", err)

	ann.VisibilityToken = f.visibility
	ann.AttributeTokens = []string{Token(KindAttribute, "pedestrian.moving")}
	_, err = b.AppendSampleAnnotation(ctx, "", ann)
	assert.True(t, errors.Is(err, ErrUnknownToken), "unregistered attribute: got %v", err)

	ann.AttributeTokens = []string{Token(KindAttribute, "vehicle.moving")}
	_, err = b.AppendSampleAnnotation(ctx, "", ann)
	assert.NoError(t, err)
}

// corruptStore wraps a MemoryStore and rewrites one row body on read.
type corruptStore struct {
	*MemoryStore
	kind   Kind
	mutate func(map[string]any)
}

func (c corruptStore) Rows(ctx context.Context, kind Kind) ([]Row, error) {
	rows, err := c.MemoryStore.Rows(ctx, kind)
	if err != nil || kind != c.kind || len(rows) == 0 {
		return rows, err
	}
	var body map[string]any
	if err := json.Unmarshal(rows[0].Body, &body); err != nil {
		return nil, err
	}
	c.mutate(body)
	rows[0].Body, err = json.Marshal(body)
	return rows, err
}

func TestVerifyDetectsBrokenChains(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.captureScene(t, 0, 3)
	require.NoError(t, f.builder.Flush(ctx, progress.Cursor{}))

	tests := []struct {
		name   string
		kind   Kind
		mutate func(map[string]any)
	}{
		{"scene count", KindScene, func(m map[string]any) { m["nbr_samples"] = 7 }},
		{"scene last", KindScene, func(m map[string]any) { m["last_sample_token"] = "bogus" }},
		{"instance count", KindInstance, func(m map[string]any) { m["nbr_annotations"] = 1 }},
		{"sample data cycle", KindSampleData, func(m map[string]any) { m["next"] = m["token"] }},
		{"annotation visibility", KindSampleAnnotation, func(m map[string]any) { m["visibility_token"] = "9" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			problems, err := Verify(ctx, corruptStore{f.store, tt.kind, tt.mutate})
			require.NoError(t, err)
			assert.NotEmpty(t, problems)
		})
	}
}
