// Package dataset builds the tokenized, relationally linked dataset graph:
// registrations, per-scene entities and the prev/next chains that order
// samples, sample data and annotations.
//
// Every row is identified by a token derived from its semantic identity, so
// re-running the same logical unit of work produces the same tokens.
package dataset

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Kind names a dataset table.
type Kind string

const (
	KindSensor           Kind = "sensor"
	KindCalibratedSensor Kind = "calibrated_sensor"
	KindEgoPose          Kind = "ego_pose"
	KindLog              Kind = "log"
	KindMap              Kind = "map"
	KindScene            Kind = "scene"
	KindSample           Kind = "sample"
	KindSampleData       Kind = "sample_data"
	KindSampleAnnotation Kind = "sample_annotation"
	KindInstance         Kind = "instance"
	KindCategory         Kind = "category"
	KindAttribute        Kind = "attribute"
	KindVisibility       Kind = "visibility"
)

// Kinds lists every table in export order.
var Kinds = []Kind{
	KindAttribute,
	KindCalibratedSensor,
	KindCategory,
	KindEgoPose,
	KindInstance,
	KindLog,
	KindMap,
	KindSample,
	KindSampleAnnotation,
	KindSampleData,
	KindScene,
	KindSensor,
	KindVisibility,
}

// SceneScoped reports whether rows of kind k belong to exactly one scene.
func (k Kind) SceneScoped() bool {
	switch k {
	case KindScene, KindSample, KindSampleData, KindSampleAnnotation,
		KindEgoPose, KindCalibratedSensor, KindInstance:
		return true
	default:
		return false
	}
}

// tokenNamespace seeds name-based UUIDs so tokens are stable across runs and hosts.
var tokenNamespace = uuid.MustParse("6f1c2b0e-4d1a-5c3e-9b7a-2e8d5f0a9c41")

// Token derives the deterministic token of a row of kind from its identity parts.
func Token(kind Kind, parts ...string) string {
	name := string(kind) + "\x00" + strings.Join(parts, "\x00")
	id := uuid.NewMD5(tokenNamespace, []byte(name))
	return strings.ReplaceAll(id.String(), "-", "")
}

func itoa(i int) string { return strconv.Itoa(i) }

func i64toa(i int64) string { return strconv.FormatInt(i, 10) }
