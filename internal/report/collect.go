// Package report renders a summary of a persisted dataset: an HTML page of
// go-echarts charts and a top-down trajectory plot per scene.
package report

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/banshee-data/scenecapture/internal/dataset"
)

// Summary is everything the report draws, gathered from one pass over the
// dataset tables.
type Summary struct {
	Scenes []SceneSummary
	// Visibility counts annotations per visibility level, in level order.
	Visibility []LevelCount
	// LidarPoints and RadarPoints hold the per-annotation point counts.
	LidarPoints []float64
	RadarPoints []float64
}

type LevelCount struct {
	Token string
	Level string
	Count int
}

type SceneSummary struct {
	Token       string
	Name        string
	Samples     int
	Annotations int
	// Ego is the ego vehicle's X/Y in the dataset frame, ordered by timestamp.
	Ego []Point
	// Objects are the X/Y centres of every annotation in the scene.
	Objects []Point
}

type Point struct{ X, Y float64 }

// Collect reads the tables the report needs from r.
func Collect(ctx context.Context, r dataset.Reader) (*Summary, error) {
	scenes, err := dataset.ReadAll[dataset.Scene](ctx, r, dataset.KindScene)
	if err != nil {
		return nil, fmt.Errorf("read scenes: %w", err)
	}
	visibility, err := dataset.ReadAll[dataset.Visibility](ctx, r, dataset.KindVisibility)
	if err != nil {
		return nil, fmt.Errorf("read visibility: %w", err)
	}
	poseRows, err := r.Rows(ctx, dataset.KindEgoPose)
	if err != nil {
		return nil, fmt.Errorf("read ego poses: %w", err)
	}
	annRows, err := r.Rows(ctx, dataset.KindSampleAnnotation)
	if err != nil {
		return nil, fmt.Errorf("read annotations: %w", err)
	}

	s := &Summary{}
	byScene := make(map[string]*SceneSummary, len(scenes))
	for _, sc := range scenes {
		s.Scenes = append(s.Scenes, SceneSummary{Token: sc.Token, Name: sc.Name, Samples: sc.NbrSamples})
	}
	sort.Slice(s.Scenes, func(i, j int) bool { return s.Scenes[i].Name < s.Scenes[j].Name })
	for i := range s.Scenes {
		byScene[s.Scenes[i].Token] = &s.Scenes[i]
	}

	type timedPoint struct {
		ts int64
		p  Point
	}
	tracks := make(map[string][]timedPoint)
	poses, err := dataset.Decode[dataset.EgoPose](poseRows)
	if err != nil {
		return nil, fmt.Errorf("decode ego poses: %w", err)
	}
	for i, p := range poses {
		tracks[poseRows[i].SceneToken] = append(tracks[poseRows[i].SceneToken], timedPoint{p.Timestamp, Point{p.Translation[0], p.Translation[1]}})
	}
	for token, pts := range tracks {
		sc, ok := byScene[token]
		if !ok {
			continue
		}
		sort.Slice(pts, func(i, j int) bool { return pts[i].ts < pts[j].ts })
		// Every sensor records a pose; keep one per timestamp.
		for i, tp := range pts {
			if i > 0 && tp.ts == pts[i-1].ts {
				continue
			}
			sc.Ego = append(sc.Ego, tp.p)
		}
	}

	counts := make(map[string]int)
	anns, err := dataset.Decode[dataset.SampleAnnotation](annRows)
	if err != nil {
		return nil, fmt.Errorf("decode annotations: %w", err)
	}
	for i, a := range anns {
		counts[a.VisibilityToken]++
		s.LidarPoints = append(s.LidarPoints, float64(a.NumLidarPts))
		s.RadarPoints = append(s.RadarPoints, float64(a.NumRadarPts))
		if sc, ok := byScene[annRows[i].SceneToken]; ok {
			sc.Annotations++
			sc.Objects = append(sc.Objects, Point{a.Translation[0], a.Translation[1]})
		}
	}

	levels := make(map[string]string, len(visibility))
	for _, v := range visibility {
		levels[v.Token] = v.Level
		if _, ok := counts[v.Token]; !ok {
			counts[v.Token] = 0
		}
	}
	for token, n := range counts {
		level, ok := levels[token]
		if !ok {
			level = "unregistered " + token
		}
		s.Visibility = append(s.Visibility, LevelCount{Token: token, Level: level, Count: n})
	}
	sort.Slice(s.Visibility, func(i, j int) bool {
		return tokenLess(s.Visibility[i].Token, s.Visibility[j].Token)
	})
	sort.Float64s(s.LidarPoints)
	sort.Float64s(s.RadarPoints)
	return s, nil
}

// tokenLess orders numeric visibility tokens numerically and the rest after them.
func tokenLess(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	switch {
	case aerr == nil && berr == nil:
		return ai < bi
	case aerr == nil:
		return true
	case berr == nil:
		return false
	}
	return a < b
}
