package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/banshee-data/scenecapture/internal/dataset"
	"github.com/banshee-data/scenecapture/internal/progress"
)

func TestLoadProgressFreshDatabase(t *testing.T) {
	db := newTestDB(t)
	cursor, err := db.LoadProgress(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if cursor != (progress.Cursor{}) {
		t.Errorf("Expected zero cursor, got %v", cursor)
	}
}

func TestCommitPersistsRowsAndCursor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset.db")
	db, err := NewDB(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	want := progress.Cursor{World: 1, Capture: 0, Scene: 2, Repetition: 1}
	rows := []dataset.Row{
		{Kind: dataset.KindCategory, Token: "cat", Body: []byte(`{"token":"cat","name":"vehicle.car"}`)},
		{Kind: dataset.KindScene, Token: "s1", SceneToken: "s1", Body: []byte(`{"token":"s1"}`)},
		{Kind: dataset.KindSample, Token: "a", SceneToken: "s1", Body: []byte(`{"token":"a"}`)},
	}
	if err := db.Commit(ctx, want, nil, rows); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	db.Close()

	// Reopen to make sure everything reached the file.
	db, err = NewDB(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	got, err := db.LoadProgress(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("Expected cursor %v, got %v", want, got)
	}
	row, ok, err := db.Lookup(ctx, dataset.KindSample, "a")
	if err != nil || !ok {
		t.Fatalf("Lookup sample a: ok=%v err=%v", ok, err)
	}
	if row.SceneToken != "s1" || string(row.Body) != `{"token":"a"}` {
		t.Errorf("Unexpected row %+v", row)
	}
	if _, ok, _ := db.Lookup(ctx, dataset.KindSample, "cat"); ok {
		t.Error("Lookup matched a token of a different kind")
	}
	counts, err := db.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[dataset.KindCategory] != 1 || counts[dataset.KindScene] != 1 || counts[dataset.KindSample] != 1 {
		t.Errorf("Unexpected counts %v", counts)
	}
}

func TestCommitReplacesScene(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	first := []dataset.Row{
		{Kind: dataset.KindScene, Token: "s1", SceneToken: "s1", Body: []byte(`{}`)},
		{Kind: dataset.KindSample, Token: "old-1", SceneToken: "s1", Body: []byte(`{}`)},
		{Kind: dataset.KindSample, Token: "old-2", SceneToken: "s1", Body: []byte(`{}`)},
		{Kind: dataset.KindSample, Token: "other", SceneToken: "s2", Body: []byte(`{}`)},
		{Kind: dataset.KindCategory, Token: "cat", Body: []byte(`{}`)},
	}
	if err := db.Commit(ctx, progress.Cursor{Repetition: 1}, nil, first); err != nil {
		t.Fatal(err)
	}
	second := []dataset.Row{
		{Kind: dataset.KindScene, Token: "s1", SceneToken: "s1", Body: []byte(`{"nbr_samples":1}`)},
		{Kind: dataset.KindSample, Token: "new-1", SceneToken: "s1", Body: []byte(`{}`)},
	}
	if err := db.Commit(ctx, progress.Cursor{Repetition: 1}, []string{"s1"}, second); err != nil {
		t.Fatal(err)
	}

	samples, err := db.Rows(ctx, dataset.KindSample)
	if err != nil {
		t.Fatal(err)
	}
	var tokens []string
	for _, r := range samples {
		tokens = append(tokens, r.Token)
	}
	if len(tokens) != 2 || tokens[0] != "new-1" || tokens[1] != "other" {
		t.Errorf("Expected [new-1 other], got %v", tokens)
	}
	if _, ok, _ := db.Lookup(ctx, dataset.KindCategory, "cat"); !ok {
		t.Error("Unscoped rows must survive scene replacement")
	}
	scene, _, _ := db.Lookup(ctx, dataset.KindScene, "s1")
	if string(scene.Body) != `{"nbr_samples":1}` {
		t.Errorf("Scene row not replaced: %s", scene.Body)
	}
}

func TestCommitCancelledLeavesNothing(t *testing.T) {
	db := newTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rows := []dataset.Row{{Kind: dataset.KindCategory, Token: "cat", Body: []byte(`{}`)}}
	if err := db.Commit(ctx, progress.Cursor{World: 5}, nil, rows); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	cursor, err := db.LoadProgress(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if cursor != (progress.Cursor{}) {
		t.Errorf("Cursor advanced by a failed commit: %v", cursor)
	}
	if _, ok, _ := db.Lookup(context.Background(), dataset.KindCategory, "cat"); ok {
		t.Error("Row written by a failed commit")
	}
}

// A builder backed by SQLite produces a graph that passes verification and
// survives a restart with a fresh builder.
func TestBuilderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dataset.db")
	db, err := NewDB(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	b := dataset.NewBuilder(db)
	if _, err := b.RegisterSensor(ctx, "LIDAR_TOP", "lidar"); err != nil {
		t.Fatal(err)
	}
	cat, err := b.RegisterCategory(ctx, "vehicle.car", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.RegisterVisibility(ctx, 4, "v80-100", "visibility of whole object is between 80 and 100%"); err != nil {
		t.Fatal(err)
	}
	mapToken, err := b.UpsertMap(ctx, "Town01", "semantic_prior")
	if err != nil {
		t.Fatal(err)
	}
	logToken, err := b.UpsertLog(ctx, mapToken, dataset.LogInfo{Vehicle: "lincoln.mkz", Date: "2026-10-14"})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Flush(ctx, progress.Cursor{}); err != nil {
		t.Fatal(err)
	}

	scene, err := b.UpsertScene(ctx, logToken, 0, 0, "scene-0000", "")
	if err != nil {
		t.Fatal(err)
	}
	cs, err := b.UpsertCalibratedSensor(ctx, scene, "LIDAR_TOP", [3]float64{0, 0, 1.8}, [4]float64{1, 0, 0, 0}, nil)
	if err != nil {
		t.Fatal(err)
	}
	inst, err := b.UpsertInstance(ctx, scene, cat, 7)
	if err != nil {
		t.Fatal(err)
	}
	var prevSample, prevData, prevAnn string
	for i := 1; i <= 3; i++ {
		ts := int64(i) * 500000
		if prevSample, err = b.AppendSample(ctx, prevSample, scene, ts); err != nil {
			t.Fatal(err)
		}
		ego, err := b.UpsertEgoPose(ctx, scene, cs, ts, [4]float64{1, 0, 0, 0}, [3]float64{float64(i), 0, 0})
		if err != nil {
			t.Fatal(err)
		}
		prevData, err = b.AppendSampleData(ctx, prevData, dataset.SampleDataInfo{
			SceneToken: scene, SampleToken: prevSample, EgoPoseToken: ego, CalibratedSensorToken: cs,
			Channel: "LIDAR_TOP", Modality: "lidar", Timestamp: ts, IsKeyFrame: true,
		})
		if err != nil {
			t.Fatal(err)
		}
		prevAnn, err = b.AppendSampleAnnotation(ctx, prevAnn, dataset.AnnotationInfo{
			SceneToken: scene, SampleToken: prevSample, InstanceToken: inst,
			VisibilityToken: dataset.VisibilityToken(4), Size: [3]float64{2, 4.5, 1.5}, Rotation: [4]float64{1, 0, 0, 0},
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if err := b.Flush(ctx, progress.Cursor{Repetition: 1}); err != nil {
		t.Fatal(err)
	}

	problems, err := dataset.Verify(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if len(problems) != 0 {
		t.Errorf("Expected a verified graph, got %v", problems)
	}

	// A fresh builder after restart re-captures the same repetition.
	db.Close()
	db, err = NewDB(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	b = dataset.NewBuilder(db)
	scene2, err := b.UpsertScene(ctx, logToken, 0, 0, "scene-0000", "")
	if err != nil {
		t.Fatal(err)
	}
	if scene2 != scene {
		t.Fatalf("Scene token changed across restart: %s vs %s", scene2, scene)
	}
	if _, err := b.AppendSample(ctx, "", scene2, 500000); err != nil {
		t.Fatal(err)
	}
	if err := b.Flush(ctx, progress.Cursor{Repetition: 1}); err != nil {
		t.Fatal(err)
	}
	samples, err := db.Rows(ctx, dataset.KindSample)
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 1 {
		t.Errorf("Expected the re-captured scene to replace its samples, got %d", len(samples))
	}
	if data, _ := db.Rows(ctx, dataset.KindSampleData); len(data) != 0 {
		t.Errorf("Expected stale sample data to be replaced, got %d rows", len(data))
	}
	if cats, _ := db.Rows(ctx, dataset.KindCategory); len(cats) != 1 {
		t.Errorf("Expected registrations to survive, got %d categories", len(cats))
	}
}
