package dataset

import (
	"context"
	"fmt"
	"sort"
)

// Problem is one integrity violation found by Verify.
type Problem struct {
	Kind    Kind
	Token   string
	Message string
}

func (p Problem) String() string {
	return fmt.Sprintf("%s %s: %s", p.Kind, p.Token, p.Message)
}

type link struct {
	prev, next string
}

// chain describes one ordered list to check.
type chain struct {
	kind    Kind
	owner   Kind
	ownerID string
	first   string
	last    string
	// count is the expected length, or -1 when the owner does not record one.
	count   int
	members []string
}

// walk follows next pointers from first and reports cycles, broken back
// links, length and endpoint mismatches, and members never reached.
func (c chain) walk(links map[string]link) []Problem {
	var out []Problem
	report := func(token, format string, args ...any) {
		out = append(out, Problem{Kind: c.kind, Token: token, Message: fmt.Sprintf(format, args...)})
	}

	if len(c.members) == 0 {
		if c.first != "" || c.last != "" || c.count > 0 {
			out = append(out, Problem{Kind: c.owner, Token: c.ownerID, Message: "has chain pointers but no members"})
		}
		return out
	}
	if c.first == "" {
		out = append(out, Problem{Kind: c.owner, Token: c.ownerID, Message: "missing first token"})
		return out
	}

	seen := make(map[string]bool, len(c.members))
	prev := ""
	cur := c.first
	for cur != "" {
		l, ok := links[cur]
		if !ok {
			report(cur, "referenced from %q but not in %s %s", prev, c.owner, c.ownerID)
			break
		}
		if seen[cur] {
			report(cur, "cycle detected")
			break
		}
		seen[cur] = true
		if l.prev != prev {
			report(cur, "prev is %q, want %q", l.prev, prev)
		}
		prev, cur = cur, l.next
	}
	if c.last != "" && prev != c.last {
		out = append(out, Problem{Kind: c.owner, Token: c.ownerID, Message: fmt.Sprintf("chain ends at %q, last token is %q", prev, c.last)})
	}
	if c.count >= 0 && len(seen) != c.count {
		out = append(out, Problem{Kind: c.owner, Token: c.ownerID, Message: fmt.Sprintf("chain has %d links, count is %d", len(seen), c.count)})
	}
	for _, m := range c.members {
		if !seen[m] {
			report(m, "orphaned from %s %s", c.owner, c.ownerID)
		}
	}
	return out
}

// Verify checks chain integrity and token references across the persisted graph.
func Verify(ctx context.Context, r Reader) ([]Problem, error) {
	scenes, err := ReadAll[Scene](ctx, r, KindScene)
	if err != nil {
		return nil, fmt.Errorf("read scenes: %w", err)
	}
	samples, err := ReadAll[Sample](ctx, r, KindSample)
	if err != nil {
		return nil, fmt.Errorf("read samples: %w", err)
	}
	sampleData, err := ReadAll[SampleData](ctx, r, KindSampleData)
	if err != nil {
		return nil, fmt.Errorf("read sample data: %w", err)
	}
	annotations, err := ReadAll[SampleAnnotation](ctx, r, KindSampleAnnotation)
	if err != nil {
		return nil, fmt.Errorf("read annotations: %w", err)
	}
	instances, err := ReadAll[Instance](ctx, r, KindInstance)
	if err != nil {
		return nil, fmt.Errorf("read instances: %w", err)
	}

	known := make(map[Kind]map[string]bool)
	for _, k := range []Kind{KindLog, KindCalibratedSensor, KindEgoPose, KindCategory, KindVisibility, KindAttribute, KindSensor, KindMap} {
		rows, err := r.Rows(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", k, err)
		}
		known[k] = make(map[string]bool, len(rows))
		for _, row := range rows {
			known[k][row.Token] = true
		}
	}

	var problems []Problem
	ref := func(kind Kind, token string, target Kind, want string) {
		if !known[target][want] {
			problems = append(problems, Problem{Kind: kind, Token: token, Message: fmt.Sprintf("unknown %s %q", target, want)})
		}
	}

	sampleLinks := make(map[string]link, len(samples))
	samplesByScene := make(map[string][]string)
	for _, s := range samples {
		sampleLinks[s.Token] = link{s.Prev, s.Next}
		samplesByScene[s.SceneToken] = append(samplesByScene[s.SceneToken], s.Token)
	}
	sceneSeen := make(map[string]bool, len(scenes))
	for _, sc := range scenes {
		sceneSeen[sc.Token] = true
		ref(KindScene, sc.Token, KindLog, sc.LogToken)
		problems = append(problems, chain{
			kind: KindSample, owner: KindScene, ownerID: sc.Token,
			first: sc.FirstSampleToken, last: sc.LastSampleToken,
			count: sc.NbrSamples, members: samplesByScene[sc.Token],
		}.walk(sampleLinks)...)
	}
	for scene, tokens := range samplesByScene {
		if !sceneSeen[scene] {
			for _, t := range tokens {
				problems = append(problems, Problem{Kind: KindSample, Token: t, Message: fmt.Sprintf("unknown scene %q", scene)})
			}
		}
	}

	// Sample data chains are owned by their calibrated sensor, which records no
	// endpoints; the head is the record with no prev.
	dataLinks := make(map[string]link, len(sampleData))
	dataBySensor := make(map[string][]string)
	heads := make(map[string][]string)
	for _, sd := range sampleData {
		dataLinks[sd.Token] = link{sd.Prev, sd.Next}
		dataBySensor[sd.CalibratedSensorToken] = append(dataBySensor[sd.CalibratedSensorToken], sd.Token)
		if sd.Prev == "" {
			heads[sd.CalibratedSensorToken] = append(heads[sd.CalibratedSensorToken], sd.Token)
		}
		ref(KindSampleData, sd.Token, KindCalibratedSensor, sd.CalibratedSensorToken)
		ref(KindSampleData, sd.Token, KindEgoPose, sd.EgoPoseToken)
		if _, ok := sampleLinks[sd.SampleToken]; !ok {
			problems = append(problems, Problem{Kind: KindSampleData, Token: sd.Token, Message: fmt.Sprintf("unknown sample %q", sd.SampleToken)})
		}
	}
	for _, cs := range sortedKeys(dataBySensor) {
		h := heads[cs]
		if len(h) != 1 {
			problems = append(problems, Problem{Kind: KindCalibratedSensor, Token: cs, Message: fmt.Sprintf("has %d chain heads, want 1", len(h))})
			continue
		}
		problems = append(problems, chain{
			kind: KindSampleData, owner: KindCalibratedSensor, ownerID: cs,
			first: h[0], count: -1, members: dataBySensor[cs],
		}.walk(dataLinks)...)
	}

	annLinks := make(map[string]link, len(annotations))
	annByInstance := make(map[string][]string)
	for _, a := range annotations {
		annLinks[a.Token] = link{a.Prev, a.Next}
		annByInstance[a.InstanceToken] = append(annByInstance[a.InstanceToken], a.Token)
		ref(KindSampleAnnotation, a.Token, KindVisibility, a.VisibilityToken)
		for _, at := range a.AttributeTokens {
			ref(KindSampleAnnotation, a.Token, KindAttribute, at)
		}
		if _, ok := sampleLinks[a.SampleToken]; !ok {
			problems = append(problems, Problem{Kind: KindSampleAnnotation, Token: a.Token, Message: fmt.Sprintf("unknown sample %q", a.SampleToken)})
		}
	}
	instSeen := make(map[string]bool, len(instances))
	for _, in := range instances {
		instSeen[in.Token] = true
		ref(KindInstance, in.Token, KindCategory, in.CategoryToken)
		problems = append(problems, chain{
			kind: KindSampleAnnotation, owner: KindInstance, ownerID: in.Token,
			first: in.FirstAnnotationToken, last: in.LastAnnotationToken,
			count: in.NbrAnnotations, members: annByInstance[in.Token],
		}.walk(annLinks)...)
	}
	for _, inst := range sortedKeys(annByInstance) {
		if !instSeen[inst] {
			problems = append(problems, Problem{Kind: KindInstance, Token: inst, Message: "referenced by annotations but missing"})
		}
	}
	return problems, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
