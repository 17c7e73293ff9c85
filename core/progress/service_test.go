package progress_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/suivi/core"
	"github.com/trezcool/suivi/core/progress"
	emailsvc "github.com/trezcool/suivi/services/email"
	testutil "github.com/trezcool/suivi/tests"
)

var (
	ctx = context.Background()
	t0  = time.Date(2021, 1, 10, 9, 0, 0, 0, time.UTC)
)

func at(secs float64) time.Time {
	return t0.Add(time.Duration(secs * float64(time.Second)))
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

// newCatalog builds two ungated courses A (scorm a1) and B (document b1), and C gated by both.
func newCatalog(t *testing.T, configure ...func(conf *core.Config)) *testutil.Env {
	env := testutil.NewEnv(t, configure...)
	env.Enroll("c1", "u1", "A", "B", "C")
	env.AddContent("c1", "A", "a1", progress.Scorm{})
	env.AddContent("c1", "B", "b1", progress.Document{})
	env.AddContent("c1", "C", "v1", progress.Video{})
	env.Gate("c1", "C", "A", "a1", progress.Scorm{})
	env.Gate("c1", "C", "B", "b1", progress.Document{})
	return env
}

func target(course, content string) progress.Target {
	return progress.Target{UserID: "u1", CourseID: course, ContentID: content}
}

func completeA(env *testutil.Env, now time.Time) (progress.Result, error) {
	return env.Svc.Complete(ctx, testutil.Session("c1", "u1", now), progress.CompleteRequest{
		Target:      target("A", "a1"),
		ContentType: "scorm",
		StatusHint:  progress.StatusHintCompleted,
	})
}

func completeB(env *testutil.Env, now time.Time) (progress.Result, error) {
	return env.Svc.Complete(ctx, testutil.Session("c1", "u1", now), progress.CompleteRequest{
		Target:      target("B", "b1"),
		ContentType: "document",
	})
}

func courseView(t *testing.T, env *testutil.Env, course string) progress.CourseView {
	t.Helper()
	view, err := env.Svc.CourseProgress(ctx, testutil.Session("c1", "u1", at(1000)), progress.CourseTarget{UserID: "u1", CourseID: course})
	if err != nil {
		t.Fatalf("CourseProgress(%s) failed: %v", course, err)
	}
	return view
}

func TestService_scormSession(t *testing.T) {
	env := newCatalog(t, func(conf *core.Config) { conf.Progress.SessionCap = time.Minute })
	sess := func(secs float64) core.Session { return testutil.Session("c1", "u1", at(secs)) }

	res, err := env.Svc.Start(ctx, sess(0), progress.StartRequest{Target: target("A", "a1"), ContentType: "scorm"})
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if res.Record.Status != progress.StatusInProgress || res.Record.VisitCount != 1 || res.ResumeState != nil {
		t.Fatalf("Start() = %+v, want a fresh in_progress record", res.Record)
	}

	for _, secs := range []float64{30, 95} {
		if _, err = env.Svc.Update(ctx, sess(secs), progress.UpdateRequest{Target: target("A", "a1"), ContentType: "scorm"}); err != nil {
			t.Fatalf("Update(t0+%vs) failed: %v", secs, err)
		}
	}

	res, err = env.Svc.Complete(ctx, sess(120), progress.CompleteRequest{
		Target:      target("A", "a1"),
		ContentType: "scorm",
		StatusHint:  progress.StatusHintCompleted,
	})
	if err != nil {
		t.Fatalf("Complete() failed: %v", err)
	}
	if !res.Completed || res.Record.Status != progress.StatusCompleted {
		t.Fatalf("Complete() = %+v, want completed", res.Record)
	}
	if got := res.Record.AccruedSeconds(); got != 90 {
		t.Errorf("accrued = %ds, want 90s", got)
	}
	if !res.Record.CompletedAt.Equal(at(120)) || !res.Record.StartedAt.Equal(t0) {
		t.Errorf("started/completed = %v/%v", res.Record.StartedAt, res.Record.CompletedAt)
	}
	// its own course and the gated course
	if len(res.Cascade.Aggregates) != 2 || len(res.Cascade.Unlocked) != 0 {
		t.Errorf("cascade = %d aggregates, %d unlocked, want 2, 0", len(res.Cascade.Aggregates), len(res.Cascade.Unlocked))
	}

	a := courseView(t, env, "A")
	if a.Status != progress.StatusCompleted || a.CompletionPercentage != 100 || a.CurrentContentID != "a1" {
		t.Errorf("course A = %+v", a.CourseAggregate)
	}
	if len(a.Prerequisites) != 1 || a.Prerequisites[0].TimeSpentSeconds != 90 || !a.Prerequisites[0].IsCompleted {
		t.Errorf("course A projections = %+v", a.Prerequisites)
	}

	c := courseView(t, env, "C")
	if c.CompletedPrerequisites != 1 || c.TotalPrerequisites != 3 || c.Access != progress.AccessLocked {
		t.Errorf("course C = %+v", c.CourseAggregate)
	}
}

func TestService_cascade(t *testing.T) {
	orders := []struct {
		name  string
		steps []func(env *testutil.Env, now time.Time) (progress.Result, error)
	}{
		{name: "A then B", steps: []func(*testutil.Env, time.Time) (progress.Result, error){completeA, completeB}},
		{name: "B then A", steps: []func(*testutil.Env, time.Time) (progress.Result, error){completeB, completeA}},
	}
	for _, tt := range orders {
		t.Run(tt.name, func(t *testing.T) {
			env := newCatalog(t)

			var unlocked int
			for i, step := range tt.steps {
				res, err := step(env, at(float64(10*(i+1))))
				if err != nil {
					t.Fatalf("step %d failed: %v", i, err)
				}
				if !res.Completed {
					t.Fatalf("step %d did not complete", i)
				}
				unlocked += len(res.Cascade.Unlocked)
			}
			if unlocked != 1 {
				t.Errorf("course unlocked %d times, want 1", unlocked)
			}

			c := courseView(t, env, "C")
			if c.Access != progress.AccessUnlocked || c.UnlockedAt == nil || !c.UnlockedAt.Equal(at(20)) {
				t.Errorf("course C access = %s since %v", c.Access, c.UnlockedAt)
			}
			if c.CompletedPrerequisites != 2 {
				t.Errorf("course C prerequisites done = %d, want 2", c.CompletedPrerequisites)
			}

			sent := emailsvc.Sent()
			if len(sent) != 1 {
				t.Fatalf("sent %d emails, want 1", len(sent))
			}
			if sent[0].To[0].Address != "u1@test.cd" || !strings.Contains(sent[0].TextContent, "/courses/C") {
				t.Errorf("unexpected email: %+v", sent[0])
			}
		})
	}
}

func TestService_cascade_concurrent(t *testing.T) {
	for i := 0; i < 20; i++ {
		env := newCatalog(t)

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			unlocked int
		)
		for _, step := range []func(*testutil.Env, time.Time) (progress.Result, error){completeA, completeB} {
			wg.Add(1)
			go func(step func(*testutil.Env, time.Time) (progress.Result, error)) {
				defer wg.Done()
				res, err := step(env, at(10))
				if err != nil {
					t.Errorf("completion failed: %v", err)
					return
				}
				mu.Lock()
				unlocked += len(res.Cascade.Unlocked)
				mu.Unlock()
			}(step)
		}
		wg.Wait()

		if unlocked != 1 {
			t.Fatalf("run %d: course unlocked %d times, want 1", i, unlocked)
		}
		if c := courseView(t, env, "C"); c.CompletedPrerequisites != 2 || c.Access != progress.AccessUnlocked {
			t.Fatalf("run %d: course C = %+v", i, c.CourseAggregate)
		}
	}
}

func TestService_Complete_idempotent(t *testing.T) {
	env := newCatalog(t)

	if _, err := completeA(env, at(10)); err != nil {
		t.Fatalf("first Complete() failed: %v", err)
	}
	before := courseView(t, env, "C")

	res, err := completeA(env, at(20))
	if err != nil {
		t.Fatalf("second Complete() failed: %v", err)
	}
	if res.Completed || len(res.Cascade.Aggregates) != 0 || len(res.Cascade.Affected) != 0 {
		t.Errorf("replayed completion cascaded again: %+v", res.Cascade)
	}
	if !res.Record.CompletedAt.Equal(at(10)) {
		t.Errorf("CompletedAt = %v, want %v", res.Record.CompletedAt, at(10))
	}

	after := courseView(t, env, "C")
	if after.Version != before.Version || after.CompletedPrerequisites != before.CompletedPrerequisites {
		t.Errorf("aggregate changed on replay: %+v -> %+v", before.CourseAggregate, after.CourseAggregate)
	}
}

func TestService_noRegression(t *testing.T) {
	env := newCatalog(t)
	sess := func(secs float64) core.Session { return testutil.Session("c1", "u1", at(secs)) }
	tgt := target("C", "v1")

	if _, err := env.Svc.Start(ctx, sess(0), progress.StartRequest{Target: tgt, ContentType: "video"}); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	res, err := env.Svc.Update(ctx, sess(60), progress.UpdateRequest{Target: tgt, ContentType: "video", Progress: floatPtr(95)})
	if err != nil || !res.Completed {
		t.Fatalf("Update() = %v, %v, want completion", res.Completed, err)
	}

	res, err = env.Svc.Update(ctx, sess(70), progress.UpdateRequest{Target: tgt, ContentType: "video", Progress: floatPtr(5)})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if res.Completed || res.Record.Status != progress.StatusCompleted || res.Record.ProgressPercent != 95 {
		t.Errorf("completed record regressed: %+v", res.Record)
	}

	// revisit, once the previous session has gone stale
	revisit := 70 + (env.Conf.Progress.SessionCap + time.Minute).Seconds()
	res, err = env.Svc.Start(ctx, sess(revisit), progress.StartRequest{Target: tgt, ContentType: "video"})
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if res.Record.Status != progress.StatusCompleted || res.Record.VisitCount != 2 || !res.Record.LastSeenAt.Equal(at(revisit)) {
		t.Errorf("revisit = %+v", res.Record)
	}
	if got := res.Record.AccruedSeconds(); got != 70 {
		t.Errorf("accrued = %ds, want 70s", got)
	}
}

func TestService_Update_twoTabs(t *testing.T) {
	tests := []struct {
		name  string
		first string // tab whose ping the server serializes first
	}{
		{name: "earlier sent first", first: "tab1"},
		{name: "later sent first", first: "tab2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newCatalog(t)
			tgt := target("A", "a1")
			if _, err := env.Svc.Start(ctx, testutil.Session("c1", "u1", at(0)), progress.StartRequest{Target: tgt, ContentType: "scorm"}); err != nil {
				t.Fatalf("Start() failed: %v", err)
			}

			pings := map[string]progress.UpdateRequest{
				"tab1": {Target: tgt, ContentType: "scorm", ResumeState: strPtr("page=3"), SentAt: at(9.2)},
				"tab2": {Target: tgt, ContentType: "scorm", ResumeState: strPtr("page=5"), SentAt: at(9.7)},
			}
			order := []string{"tab1", "tab2"}
			if tt.first == "tab2" {
				order = []string{"tab2", "tab1"}
			}
			// both pings land at the same server time
			for _, tab := range order {
				if _, err := env.Svc.Update(ctx, testutil.Session("c1", "u1", at(10)), pings[tab]); err != nil {
					t.Fatalf("Update(%s) failed: %v", tab, err)
				}
			}
			res, err := env.Svc.Update(ctx, testutil.Session("c1", "u1", at(25)), progress.UpdateRequest{Target: tgt, ContentType: "scorm"})
			if err != nil {
				t.Fatalf("Update() failed: %v", err)
			}

			state, err := env.Svc.Resume(ctx, testutil.Session("c1", "u1", at(30)), tgt)
			if err != nil {
				t.Fatalf("Resume() failed: %v", err)
			}
			if state == nil || *state != "page=5" {
				t.Errorf("Resume() = %v, want page=5", state)
			}
			if got := res.Record.Accrued(); got != 25*time.Second {
				t.Errorf("accrued = %v, want 25s", got)
			}
		})
	}
}

func TestService_Start_secondTab(t *testing.T) {
	env := newCatalog(t)
	tgt := target("A", "a1")
	sess := func(secs float64) core.Session { return testutil.Session("c1", "u1", at(secs)) }

	if _, err := env.Svc.Start(ctx, sess(0), progress.StartRequest{Target: tgt, ContentType: "scorm"}); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if _, err := env.Svc.Update(ctx, sess(30), progress.UpdateRequest{Target: tgt, ContentType: "scorm"}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	// a second tab opens while the first one keeps pinging
	res, err := env.Svc.Start(ctx, sess(50), progress.StartRequest{Target: tgt, ContentType: "scorm"})
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if res.Record.VisitCount != 2 || res.Record.AccruedSeconds() != 50 {
		t.Errorf("second tab Start() = %d visits, %ds, want 2 visits, 50s", res.Record.VisitCount, res.Record.AccruedSeconds())
	}
	res, err = env.Svc.Update(ctx, sess(60), progress.UpdateRequest{Target: tgt, ContentType: "scorm"})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if got := res.Record.AccruedSeconds(); got != 60 {
		t.Errorf("accrued = %ds, want 60s", got)
	}
}

func TestService_Update_payloadTooLarge(t *testing.T) {
	env := newCatalog(t)
	tgt := target("A", "a1")
	sess := func(secs float64) core.Session { return testutil.Session("c1", "u1", at(secs)) }

	if _, err := env.Svc.Update(ctx, sess(0), progress.UpdateRequest{Target: tgt, ContentType: "scorm", ResumeState: strPtr("ok")}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	huge := strings.Repeat("x", 64*1024+1)
	_, err := env.Svc.Update(ctx, sess(10), progress.UpdateRequest{Target: tgt, ContentType: "scorm", ResumeState: &huge, Score: floatPtr(99)})
	if errors.Cause(err) != progress.ErrPayloadTooLarge {
		t.Fatalf("Update() error = %v, want %v", err, progress.ErrPayloadTooLarge)
	}

	state, err := env.Svc.Resume(ctx, sess(20), tgt)
	if err != nil || state == nil || *state != "ok" {
		t.Fatalf("Resume() = %v, %v, want the previous state", state, err)
	}
	if c := courseView(t, env, "A"); c.Status == progress.StatusCompleted {
		t.Error("rejected update was partially applied")
	}
}

func TestService_Update_dedupe(t *testing.T) {
	env := newCatalog(t)
	tgt := target("A", "a1")
	sess := func(secs float64) core.Session { return testutil.Session("c1", "u1", at(secs)) }

	if _, err := env.Svc.Start(ctx, sess(0), progress.StartRequest{Target: tgt, ContentType: "scorm"}); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	tests := []struct {
		name          string
		at            float64
		req           progress.UpdateRequest
		wantDuplicate bool
		wantAccrued   int64
	}{
		{name: "first", at: 10, req: progress.UpdateRequest{Target: tgt, ContentType: "scorm", Nonce: "n1", ResumeState: strPtr("s1")}, wantAccrued: 10},
		{name: "same nonce", at: 20, req: progress.UpdateRequest{Target: tgt, ContentType: "scorm", Nonce: "n1", ResumeState: strPtr("s1")}, wantDuplicate: true, wantAccrued: 10},
		{name: "same state within window", at: 11, req: progress.UpdateRequest{Target: tgt, ContentType: "scorm", ResumeState: strPtr("s1")}, wantDuplicate: true, wantAccrued: 10},
		{name: "new state within window", at: 11.5, req: progress.UpdateRequest{Target: tgt, ContentType: "scorm", ResumeState: strPtr("s2")}, wantAccrued: 11},
		{name: "liveness after window", at: 40, req: progress.UpdateRequest{Target: tgt, ContentType: "scorm"}, wantAccrued: 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := env.Svc.Update(ctx, sess(tt.at), tt.req)
			if err != nil {
				t.Fatalf("Update() failed: %v", err)
			}
			if res.Duplicate != tt.wantDuplicate {
				t.Errorf("Duplicate = %v, want %v", res.Duplicate, tt.wantDuplicate)
			}
			if got := res.Record.AccruedSeconds(); got != tt.wantAccrued {
				t.Errorf("accrued = %ds, want %ds", got, tt.wantAccrued)
			}
		})
	}
}

func TestService_Start(t *testing.T) {
	env := newCatalog(t)
	tgt := target("B", "b1")
	sess := func(secs float64) core.Session { return testutil.Session("c1", "u1", at(secs)) }

	tests := []struct {
		name        string
		at          float64
		wantVisits  int
		wantAccrued time.Duration
	}{
		{name: "first visit", at: 0, wantVisits: 1},
		{name: "retried open", at: 0.5, wantVisits: 1, wantAccrued: 500 * time.Millisecond},
		{name: "second visit", at: 60, wantVisits: 2, wantAccrued: time.Minute},
		{name: "visit after a stale session", at: 60 + 20*60, wantVisits: 3, wantAccrued: time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := env.Svc.Start(ctx, sess(tt.at), progress.StartRequest{Target: tgt, ContentType: "document"})
			if err != nil {
				t.Fatalf("Start() failed: %v", err)
			}
			if res.Record.VisitCount != tt.wantVisits {
				t.Errorf("VisitCount = %d, want %d", res.Record.VisitCount, tt.wantVisits)
			}
			// reopening credits the previous session only while it is live
			if got := res.Record.Accrued(); got != tt.wantAccrued {
				t.Errorf("accrued = %v, want %v", got, tt.wantAccrued)
			}
		})
	}

	if _, err := env.Svc.Update(ctx, sess(1270), progress.UpdateRequest{Target: tgt, ContentType: "document", ResumeState: strPtr("12")}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	res, err := env.Svc.Start(ctx, sess(1400), progress.StartRequest{Target: tgt, ContentType: "document"})
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if res.ResumeState == nil || *res.ResumeState != "12" {
		t.Errorf("Start() resume state = %v, want 12", res.ResumeState)
	}
}

func TestService_authorization(t *testing.T) {
	env := newCatalog(t)
	env.Enroll("c2", "u9", "A")
	env.DB.AddEnrollment(progress.Enrollment{ClientID: "c1", UserID: "u1", CourseID: "old", IsActive: false})
	env.AddContent("c1", "old", "o1", progress.Video{})

	tests := []struct {
		name      string
		sess      core.Session
		req       progress.StartRequest
		wantErr   error
		wantField string
	}{
		{name: "other learner", sess: testutil.Session("c1", "u2", t0), req: progress.StartRequest{Target: target("A", "a1"), ContentType: "scorm"}, wantErr: progress.ErrForbidden},
		{name: "no tenant", sess: testutil.Session("", "u1", t0), req: progress.StartRequest{Target: target("A", "a1"), ContentType: "scorm"}, wantErr: progress.ErrForbidden},
		{name: "other tenant", sess: testutil.Session("c1", "u9", t0), req: progress.StartRequest{Target: progress.Target{UserID: "u9", CourseID: "A", ContentID: "a1"}, ContentType: "scorm"}, wantErr: progress.ErrForbidden},
		{name: "not enrolled", sess: testutil.Session("c1", "u1", t0), req: progress.StartRequest{Target: target("Z", "a1"), ContentType: "scorm"}, wantErr: progress.ErrNotFound},
		{name: "inactive enrollment", sess: testutil.Session("c1", "u1", t0), req: progress.StartRequest{Target: target("old", "o1"), ContentType: "video"}, wantErr: progress.ErrNotFound},
		{name: "unknown content", sess: testutil.Session("c1", "u1", t0), req: progress.StartRequest{Target: target("A", "zz"), ContentType: "scorm"}, wantErr: progress.ErrNotFound},
		{name: "content type clash", sess: testutil.Session("c1", "u1", t0), req: progress.StartRequest{Target: target("A", "a1"), ContentType: "video"}, wantErr: progress.ErrContentTypeClash, wantField: "content_type"},
		{name: "unknown content type", sess: testutil.Session("c1", "u1", t0), req: progress.StartRequest{Target: target("A", "a1"), ContentType: "quiz"}, wantErr: progress.ErrUnknownContentType},
		{name: "admin for a learner", sess: testutil.AdminSession("c1", t0), req: progress.StartRequest{Target: target("A", "a1"), ContentType: "scorm"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.Svc.Start(ctx, tt.sess, tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Start() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantField != "" {
				var vErr *core.ValidationError
				if !errors.As(err, &vErr) || len(vErr.Fields) != 1 || vErr.Fields[0].Field != tt.wantField {
					t.Errorf("Start() error = %#v, want a %s field error", err, tt.wantField)
				}
			}
		})
	}
}

func TestService_Reset(t *testing.T) {
	env := newCatalog(t)
	if _, err := completeA(env, at(10)); err != nil {
		t.Fatalf("completing A failed: %v", err)
	}
	if _, err := completeB(env, at(20)); err != nil {
		t.Fatalf("completing B failed: %v", err)
	}

	_, err := env.Svc.Reset(ctx, testutil.Session("c1", "u1", at(30)), target("A", "a1"))
	if err != progress.ErrForbidden {
		t.Errorf("learner Reset() error = %v, want %v", err, progress.ErrForbidden)
	}

	res, err := env.Svc.Reset(ctx, testutil.AdminSession("c1", at(30)), target("A", "a1"))
	if err != nil {
		t.Fatalf("Reset() failed: %v", err)
	}
	if res.Duplicate || res.Record.Status != progress.StatusInProgress || res.Record.CompletedAt != nil || res.Record.LessonStatus != "" {
		t.Errorf("Reset() record = %+v", res.Record)
	}

	c := courseView(t, env, "C")
	if c.CompletedPrerequisites != 1 || c.Access != progress.AccessUnlocked {
		t.Errorf("course C after reset = %+v", c.CourseAggregate)
	}
	if a := courseView(t, env, "A"); a.Status == progress.StatusCompleted {
		t.Errorf("course A still completed after reset")
	}

	res, err = env.Svc.Reset(ctx, testutil.AdminSession("c1", at(40)), target("A", "a1"))
	if err != nil || !res.Duplicate {
		t.Errorf("second Reset() = %v, %v, want a no-op", res.Duplicate, err)
	}

	// completing again does not announce the course twice
	if _, err = completeA(env, at(50)); err != nil {
		t.Fatalf("completing A again failed: %v", err)
	}
	if sent := emailsvc.Sent(); len(sent) != 1 {
		t.Errorf("sent %d emails, want 1", len(sent))
	}
}

func TestService_Recascade(t *testing.T) {
	env := newCatalog(t)
	if _, err := completeA(env, at(10)); err != nil {
		t.Fatalf("completing A failed: %v", err)
	}
	if _, err := completeB(env, at(20)); err != nil {
		t.Fatalf("completing B failed: %v", err)
	}

	if _, err := env.Svc.Recascade(ctx, testutil.Session("c1", "u1", at(30)), progress.CourseTarget{UserID: "u1", CourseID: "C"}); err != progress.ErrForbidden {
		t.Errorf("learner Recascade() error = %v, want %v", err, progress.ErrForbidden)
	}

	for i := 0; i < 2; i++ {
		agg, err := env.Svc.Recascade(ctx, testutil.AdminSession("c1", at(30)), progress.CourseTarget{UserID: "u1", CourseID: "C"})
		if err != nil {
			t.Fatalf("Recascade() failed: %v", err)
		}
		if agg.CompletedPrerequisites != 2 || agg.TotalPrerequisites != 3 || agg.Access != progress.AccessUnlocked {
			t.Errorf("Recascade() = %+v", agg)
		}
	}
	if sent := emailsvc.Sent(); len(sent) != 1 {
		t.Errorf("sent %d emails, want 1", len(sent))
	}
}

func TestService_CourseProgress(t *testing.T) {
	env := newCatalog(t)

	c := courseView(t, env, "C")
	if c.Status != progress.StatusNotStarted || c.Access != progress.AccessLocked || c.TotalPrerequisites != 3 || len(c.Prerequisites) != 0 {
		t.Errorf("untouched course C = %+v", c)
	}

	if _, err := env.Svc.CourseProgress(ctx, testutil.Session("c1", "u2", t0), progress.CourseTarget{UserID: "u1", CourseID: "C"}); err != progress.ErrForbidden {
		t.Errorf("CourseProgress() by another learner error = %v, want %v", err, progress.ErrForbidden)
	}
}

func TestService_Resume(t *testing.T) {
	env := newCatalog(t)

	state, err := env.Svc.Resume(ctx, testutil.Session("c1", "u1", t0), target("A", "a1"))
	if err != nil || state != nil {
		t.Errorf("Resume() of an unopened content = %v, %v, want nil", state, err)
	}
	if _, err = env.Svc.Resume(ctx, testutil.Session("c1", "u2", t0), target("A", "a1")); err != progress.ErrForbidden {
		t.Errorf("Resume() by another learner error = %v, want %v", err, progress.ErrForbidden)
	}
	for _, tgt := range []progress.Target{target("A", "zz"), target("A", "b1")} {
		if _, err = env.Svc.Resume(ctx, testutil.Session("c1", "u1", t0), tgt); errors.Cause(err) != progress.ErrNotFound {
			t.Errorf("Resume(%s) error = %v, want %v", tgt.ContentID, err, progress.ErrNotFound)
		}
	}
}
