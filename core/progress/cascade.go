package progress

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/suivi/core"
)

// Cascade is the outcome of a propagation.
type Cascade struct {
	Affected   []PrerequisiteCompletion // projections written
	Aggregates []CourseAggregate        // aggregates recomputed
	Unlocked   []CourseAggregate        // aggregates whose access flipped to unlocked
}

func (c *Cascade) merge(o Cascade) {
	c.Affected = append(c.Affected, o.Affected...)
	c.Aggregates = append(c.Aggregates, o.Aggregates...)
	c.Unlocked = append(c.Unlocked, o.Unlocked...)
}

// Propagator keeps the prerequisite projections and the course aggregates in line with the
// content records. It always runs inside the unit of work of the record change that triggers it,
// and locks aggregates in course order.
type Propagator struct {
	repo Repository
	dir  Directory
}

func NewPropagator(repo Repository, dir Directory) Propagator {
	return Propagator{repo: repo, dir: dir}
}

// OnContentCompleted projects the completed record into every requirement that references it
// and recomputes the gated course aggregates. Requirements already projected as completed are
// left alone, which makes replays no-ops.
func (p Propagator) OnContentCompleted(ctx context.Context, rec Record, now time.Time, exec core.DBExecutor) (Cascade, error) {
	if !rec.IsCompleted() {
		return Cascade{}, nil
	}
	return p.propagate(ctx, rec, now, exec)
}

// OnContentReset withdraws the completion of a reopened record from its projections.
// Course access, once unlocked, is kept.
func (p Propagator) OnContentReset(ctx context.Context, rec Record, now time.Time, exec core.DBExecutor) (Cascade, error) {
	if rec.IsCompleted() {
		return Cascade{}, errors.Wrap(ErrInvalidTransition, "reset of a completed record")
	}
	return p.propagate(ctx, rec, now, exec)
}

func (p Propagator) propagate(ctx context.Context, rec Record, now time.Time, exec core.DBExecutor) (Cascade, error) {
	reqs, err := p.dir.ListRequirementsBySource(ctx, rec.ClientID, rec.CourseID, rec.ContentID, rec.Type)
	if err != nil {
		return Cascade{}, errors.Wrap(err, "listing requirements")
	}

	byCourse := make(map[string][]Requirement)
	for _, req := range reqs {
		byCourse[req.CourseID] = append(byCourse[req.CourseID], req)
	}
	courses := make([]string, 0, len(byCourse))
	for courseID := range byCourse {
		courses = append(courses, courseID)
	}
	sort.Strings(courses)

	var out Cascade
	for _, courseID := range courses {
		key := CourseKey{ClientID: rec.ClientID, UserID: rec.UserID, CourseID: courseID}
		res, err := p.project(ctx, key, []Record{rec}, byCourse[courseID], now, exec, false)
		if err != nil {
			return Cascade{}, errors.Wrapf(err, "propagating to course %s", courseID)
		}
		out.merge(res)
	}
	return out, nil
}

// Rebuild recomputes every projection of the course from the content records, then the aggregate.
// It repairs drift left by data fixes and is safe to run any number of times.
func (p Propagator) Rebuild(ctx context.Context, key CourseKey, now time.Time, exec core.DBExecutor) (Cascade, error) {
	reqs, err := p.dir.ListRequirements(ctx, key.ClientID, key.CourseID)
	if err != nil {
		return Cascade{}, errors.Wrap(err, "listing requirements")
	}

	recs := make([]Record, 0, len(reqs))
	for _, req := range reqs {
		id := Identity{ClientID: key.ClientID, UserID: key.UserID, CourseID: req.SourceCourseID, ContentID: req.PrerequisiteID}
		rec, err := p.repo.GetRecord(ctx, id, exec)
		switch {
		case errors.Cause(err) == ErrNotFound:
			continue // never opened
		case err != nil:
			return Cascade{}, errors.Wrap(err, "getting record")
		}
		recs = append(recs, rec)
	}
	return p.project(ctx, key, recs, reqs, now, exec, true)
}

// project writes the projections of recs for the requirements of one gated course and
// recomputes its aggregate, under the aggregate lock. Unless force is set, an unchanged set of
// projections leaves the aggregate untouched.
func (p Propagator) project(ctx context.Context, key CourseKey, recs []Record, reqs []Requirement, now time.Time, exec core.DBExecutor, force bool) (Cascade, error) {
	agg, err := p.repo.LockAggregate(ctx, NewCourseAggregate(key, now), exec)
	if err != nil {
		return Cascade{}, errors.Wrap(err, "locking aggregate")
	}
	rows, err := p.repo.ListPrerequisiteCompletions(ctx, key, exec)
	if err != nil {
		return Cascade{}, errors.Wrap(err, "listing prerequisite completions")
	}
	current := make(map[string]PrerequisiteCompletion, len(rows))
	for _, row := range rows {
		current[row.key()] = row
	}

	var out Cascade
	for _, req := range reqs {
		rec, ok := sourceOf(req, recs)
		if !ok {
			continue
		}
		pc := projectionOf(key, req, rec, now)
		if prev, found := current[pc.key()]; found && samePrerequisiteState(prev, pc) {
			continue
		}
		if err = p.repo.SavePrerequisiteCompletion(ctx, pc, exec); err != nil {
			return Cascade{}, errors.Wrap(err, "saving prerequisite completion")
		}
		current[pc.key()] = pc
		out.Affected = append(out.Affected, pc)
	}
	if len(out.Affected) == 0 && !force {
		return out, nil
	}

	all, err := p.dir.ListRequirements(ctx, key.ClientID, key.CourseID)
	if err != nil {
		return Cascade{}, errors.Wrap(err, "listing course requirements")
	}
	rows = rows[:0]
	for _, row := range current {
		rows = append(rows, row)
	}
	unlocked := agg.Recompute(all, rows, now)
	if agg, err = p.repo.SaveAggregate(ctx, agg, exec); err != nil {
		return Cascade{}, errors.Wrap(err, "saving aggregate")
	}
	out.Aggregates = append(out.Aggregates, agg)
	if unlocked {
		out.Unlocked = append(out.Unlocked, agg)
	}
	return out, nil
}

func sourceOf(req Requirement, recs []Record) (Record, bool) {
	for _, rec := range recs {
		if rec.CourseID == req.SourceCourseID && rec.ContentID == req.PrerequisiteID && rec.Type == req.PrerequisiteType {
			return rec, true
		}
	}
	return Record{}, false
}

func projectionOf(key CourseKey, req Requirement, rec Record, now time.Time) PrerequisiteCompletion {
	pc := PrerequisiteCompletion{
		ClientID:             key.ClientID,
		UserID:               key.UserID,
		CourseID:             key.CourseID,
		PrerequisiteID:       req.PrerequisiteID,
		PrerequisiteType:     req.PrerequisiteType,
		TimeSpentSeconds:     rec.AccruedSeconds(),
		IsCompleted:          rec.IsCompleted(),
		CompletionPercentage: rec.ProgressPercent,
		UpdatedAt:            now,
	}
	if rec.Score != nil {
		score := *rec.Score
		pc.Score = &score
	}
	if rec.IsCompleted() {
		pc.CompletionPercentage = 100
		pc.CompletedAt = rec.CompletedAt
	}
	return pc
}

// samePrerequisiteState reports whether writing pc over prev would change the completion state.
// A completed projection is never rewritten by a later completion of the same record.
func samePrerequisiteState(prev, pc PrerequisiteCompletion) bool {
	if prev.IsCompleted != pc.IsCompleted {
		return false
	}
	if prev.IsCompleted {
		return true
	}
	return prev.TimeSpentSeconds == pc.TimeSpentSeconds && prev.CompletionPercentage == pc.CompletionPercentage
}
