package report

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scenecapture/internal/dataset"
	"github.com/banshee-data/scenecapture/internal/fsutil"
	"github.com/banshee-data/scenecapture/internal/progress"
)

type rowSet []dataset.Row

func (rs *rowSet) add(t *testing.T, kind dataset.Kind, token, scene string, v any) {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	*rs = append(*rs, dataset.Row{Kind: kind, Token: token, SceneToken: scene, Body: body})
}

// twoScenes persists two scenes: "scene-a" with a three-step ego path seen
// by two sensors and three annotations, and an empty "scene-b".
func twoScenes(t *testing.T) *dataset.MemoryStore {
	t.Helper()
	var rs rowSet
	for i, level := range []string{"v0-40", "v40-60", "v60-80", "v80-100"} {
		tok := dataset.VisibilityToken(i + 1)
		rs.add(t, dataset.KindVisibility, tok, "", dataset.Visibility{Token: tok, Level: level})
	}
	rs.add(t, dataset.KindScene, "sa", "sa", dataset.Scene{Token: "sa", Name: "scene-a", NbrSamples: 3})
	rs.add(t, dataset.KindScene, "sb", "sb", dataset.Scene{Token: "sb", Name: "scene-b", NbrSamples: 0})

	for i, ts := range []int64{300, 100, 200} {
		for _, sensor := range []string{"lidar", "radar"} {
			tok := sensor + string(rune('0'+i))
			rs.add(t, dataset.KindEgoPose, tok, "sa", dataset.EgoPose{
				Token:       tok,
				Timestamp:   ts,
				Translation: [3]float64{float64(ts) / 100, -float64(ts) / 100, 0},
			})
		}
	}
	for i, a := range []struct {
		vis          string
		lidar, radar int
	}{{"4", 120, 3}, {"4", 40, 1}, {"1", 0, 0}} {
		tok := "ann" + string(rune('0'+i))
		rs.add(t, dataset.KindSampleAnnotation, tok, "sa", dataset.SampleAnnotation{
			Token:           tok,
			VisibilityToken: a.vis,
			Translation:     [3]float64{10 + float64(i), 2, 0.8},
			NumLidarPts:     a.lidar,
			NumRadarPts:     a.radar,
		})
	}

	store := dataset.NewMemoryStore()
	require.NoError(t, store.Commit(context.Background(), progress.Cursor{}, nil, rs))
	return store
}

func TestCollect(t *testing.T) {
	s, err := Collect(context.Background(), twoScenes(t))
	require.NoError(t, err)

	require.Len(t, s.Scenes, 2)
	a, b := s.Scenes[0], s.Scenes[1]
	assert.Equal(t, "scene-a", a.Name)
	assert.Equal(t, 3, a.Samples)
	assert.Equal(t, 3, a.Annotations)
	if diff := cmp.Diff([]Point{{1, -1}, {2, -2}, {3, -3}}, a.Ego); diff != "" {
		t.Errorf("ego path should be ordered by time with one point per timestamp (-want +got):\n%s", diff)
	}
	assert.Equal(t, []Point{{10, 2}, {11, 2}, {12, 2}}, a.Objects)
	assert.Equal(t, "scene-b", b.Name)
	assert.Empty(t, b.Ego)
	assert.Zero(t, b.Annotations)

	want := []LevelCount{
		{Token: "1", Level: "v0-40", Count: 1},
		{Token: "2", Level: "v40-60", Count: 0},
		{Token: "3", Level: "v60-80", Count: 0},
		{Token: "4", Level: "v80-100", Count: 2},
	}
	if diff := cmp.Diff(want, s.Visibility); diff != "" {
		t.Errorf("visibility counts (-want +got):\n%s", diff)
	}
	assert.Equal(t, []float64{0, 40, 120}, s.LidarPoints)
	assert.Equal(t, []float64{0, 1, 3}, s.RadarPoints)
}

func TestHistogram(t *testing.T) {
	labels, counts := histogram([]float64{0, 0, 5, 19}, 4)
	assert.Equal(t, []string{"0-5", "5-10", "10-15", "15-20"}, labels)
	assert.Equal(t, []float64{2, 1, 0, 1}, counts)

	// Small counts still spread over one-point-wide bins.
	labels, counts = histogram([]float64{1, 2}, 4)
	assert.Equal(t, []string{"0-1", "1-2", "2-3", "3-4"}, labels)
	assert.Equal(t, []float64{0, 1, 1, 0}, counts)

	labels, counts = histogram(nil, 4)
	assert.Nil(t, labels)
	assert.Nil(t, counts)
}

func TestTokenLess(t *testing.T) {
	assert.True(t, tokenLess("2", "10"))
	assert.True(t, tokenLess("4", "x"))
	assert.False(t, tokenLess("x", "4"))
	assert.True(t, tokenLess("a", "b"))
}

func TestWriteRendersSummaryAndPlots(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	res, err := New(mfs, nil).Write(context.Background(), twoScenes(t), "report")
	require.NoError(t, err)

	assert.Equal(t, "report/summary.html", res.Summary)
	assert.Equal(t, []string{"report/scenes/scene-a.png", "report/scenes/scene-b.png"}, res.Plots)
	assert.Equal(t, []string{"report/scenes/scene-a.png", "report/scenes/scene-b.png", "report/summary.html"}, mfs.Files())

	html, err := mfs.ReadFile(res.Summary)
	require.NoError(t, err)
	for _, title := range []string{
		"Annotations per visibility level",
		"Samples per scene",
		"Lidar points per annotation",
		"Radar points per annotation",
		"v80-100",
	} {
		assert.True(t, strings.Contains(string(html), title), "summary is missing %q", title)
	}

	for _, name := range res.Plots {
		png, err := mfs.ReadFile(name)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG\r\n\x1a\n")), "%s is not a PNG", name)
	}
}

func TestPlotNameFallsBackToToken(t *testing.T) {
	assert.Equal(t, "scene-0-0-0-0", plotName(&SceneSummary{Token: "abc", Name: "scene-0-0-0-0"}))
	assert.Equal(t, "abc", plotName(&SceneSummary{Token: "abc", Name: "../escape"}))
	assert.Equal(t, "abc", plotName(&SceneSummary{Token: "abc"}))
}
