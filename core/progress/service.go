package progress

import (
	"bytes"
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/suivi/core"
)

const courseUnlockedTemplate = "course_unlocked"

type (
	Repository interface {
		// LockRecord returns the stored record of rec.Identity, locked until the end of the unit of
		// work. rec is inserted first when nothing is stored yet.
		LockRecord(ctx context.Context, rec Record, exec ...core.DBExecutor) (Record, error)
		GetRecord(ctx context.Context, id Identity, exec ...core.DBExecutor) (Record, error)
		// SaveRecord writes rec when rec.Version is still the stored version and returns it with the
		// next version; ErrConflict otherwise.
		SaveRecord(ctx context.Context, rec Record, exec ...core.DBExecutor) (Record, error)

		// LockAggregate is LockRecord for course aggregates.
		LockAggregate(ctx context.Context, agg CourseAggregate, exec ...core.DBExecutor) (CourseAggregate, error)
		GetAggregate(ctx context.Context, key CourseKey, exec ...core.DBExecutor) (CourseAggregate, error)
		SaveAggregate(ctx context.Context, agg CourseAggregate, exec ...core.DBExecutor) (CourseAggregate, error)

		ListPrerequisiteCompletions(ctx context.Context, key CourseKey, exec ...core.DBExecutor) ([]PrerequisiteCompletion, error)
		// SavePrerequisiteCompletion upserts pc.
		SavePrerequisiteCompletion(ctx context.Context, pc PrerequisiteCompletion, exec ...core.DBExecutor) error
	}

	// NonceCache remembers the client nonces of recently applied requests.
	NonceCache interface {
		// Claim stores key and reports false if it was already stored.
		Claim(ctx context.Context, key string) (bool, error)
		Release(ctx context.Context, key string) error
	}

	Service struct {
		repo       Repository
		dir        Directory
		tx         core.Transactor
		nonces     NonceCache
		mailSvc    core.EmailService
		logger     core.Logger
		accrual    Accrual
		evaluator  Evaluator
		propagator Propagator
		window     time.Duration
	}
)

var newID = func() string { return uuid.New().String() } // mockable

// NewService returns the tracking engine. nonces may be nil: retries are then only detected by
// the dedupe window.
func NewService(
	conf *core.Config,
	repo Repository,
	dir Directory,
	tx core.Transactor,
	nonces NonceCache,
	mailSvc core.EmailService,
	logger core.Logger,
) *Service {
	pc := conf.Progress
	return &Service{
		repo:    repo,
		dir:     dir,
		tx:      tx,
		nonces:  nonces,
		mailSvc: mailSvc,
		logger:  logger,
		accrual: Accrual{SessionCap: pc.SessionCap, ClockSkew: pc.ClockSkew},
		evaluator: Evaluator{Criteria: Criteria{
			MasteryScore:    pc.MasteryScore,
			PlayedThreshold: pc.PlayedThreshold,
			MinEngagement:   pc.MinEngagement,
			MinDocumentView: pc.MinDocumentView,
		}},
		propagator: NewPropagator(repo, dir),
		window:     pc.DedupeWindow,
	}
}

func sessionNow(sess core.Session) time.Time {
	if sess.Now.IsZero() {
		return time.Now().UTC()
	}
	return sess.Now.UTC()
}

// authorize checks that the session may address the enrollment of userID in courseID.
func (svc *Service) authorize(ctx context.Context, sess core.Session, userID, courseID string) (Enrollment, error) {
	extra := map[string]interface{}{"client": sess.ClientID, "user": userID, "course": courseID}
	if sess.ClientID == "" || !sess.CanActFor(userID) {
		svc.logger.Warn("progress: actor not allowed", sess, extra)
		return Enrollment{}, ErrForbidden
	}

	enr, err := svc.dir.GetEnrollment(ctx, sess.ClientID, userID, courseID)
	switch {
	case errors.Cause(err) == ErrForbidden:
		svc.logger.Warn("progress: cross-tenant access", sess, extra)
		return Enrollment{}, err
	case err != nil:
		return Enrollment{}, errors.Wrap(err, "getting enrollment")
	case !enr.IsActive:
		return Enrollment{}, errors.Wrap(ErrNotFound, "inactive enrollment")
	}
	return enr, nil
}

// resolve authorizes the session and returns the identity and authoritative type of the target.
// A declared type that differs from the catalog is a content_type field error wrapping ErrContentTypeClash.
func (svc *Service) resolve(ctx context.Context, sess core.Session, t Target, declared string) (Identity, ContentType, error) {
	if _, err := svc.authorize(ctx, sess, t.UserID, t.CourseID); err != nil {
		return Identity{}, nil, err
	}
	content, err := svc.dir.GetContent(ctx, sess.ClientID, t.CourseID, t.ContentID)
	if err != nil {
		return Identity{}, nil, errors.Wrap(err, "getting content")
	}
	if declared != "" {
		ct, err := ParseContentType(declared)
		if err != nil {
			return Identity{}, nil, err
		}
		if ct != content.Type {
			return Identity{}, nil, core.NewValidationError(
				errors.Wrapf(ErrContentTypeClash, "%s is a %s", t.ContentID, content.Type),
				core.FieldError{Field: "content_type", Error: fmt.Sprintf("%s is a %s content", t.ContentID, content.Type)},
			)
		}
	}
	id := Identity{ClientID: sess.ClientID, UserID: t.UserID, CourseID: t.CourseID, ContentID: t.ContentID}
	return id, content.Type, nil
}

// claim reports whether the request identified by nonce is seen for the first time.
// Cache failures let the request through.
func (svc *Service) claim(ctx context.Context, id Identity, op, nonce string) (bool, func()) {
	noop := func() {}
	if nonce == "" || svc.nonces == nil {
		return true, noop
	}
	key := fmt.Sprintf("%s/%s/%s/%s:%s", id.LockKey(), id.CourseID, id.ContentID, op, nonce)
	fresh, err := svc.nonces.Claim(ctx, key)
	if err != nil {
		svc.logger.Warn(fmt.Sprintf("progress: claiming nonce: %v", err), err)
		return true, noop
	}
	release := func() {
		if err := svc.nonces.Release(context.Background(), key); err != nil {
			svc.logger.Warn(fmt.Sprintf("progress: releasing nonce: %v", err), err)
		}
	}
	return fresh, release
}

func (svc *Service) logAnomaly(sess core.Session, id Identity, a *Anomaly) {
	if a == nil {
		return
	}
	svc.logger.Warn("progress: clamped timing data: "+a.Reason, sess, map[string]interface{}{
		"user": id.UserID, "course": id.CourseID, "content": id.ContentID, "value": a.Value.String(),
	})
}

func (svc *Service) duplicate(ctx context.Context, id Identity) (Result, error) {
	rec, err := svc.repo.GetRecord(ctx, id)
	if errors.Cause(err) == ErrNotFound {
		// the original request has not committed yet
		return Result{}, errors.Wrap(ErrConflict, "duplicate request in flight")
	}
	if err != nil {
		return Result{}, errors.Wrap(err, "getting record")
	}
	return Result{Record: rec, Duplicate: true}, nil
}

func (svc *Service) decodeResume(sess core.Session, rec Record) *string {
	payload, err := DecodeResume(rec.Type, rec.Resume)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("progress: decoding resume state: %v", err), err, sess)
		return nil
	}
	if payload == nil {
		return nil
	}
	s := string(payload)
	return &s
}

// Start opens a player session: the visit is counted, the record created when needed and moved
// to in_progress, and the resume state returned. A completed record stays completed.
func (svc *Service) Start(ctx context.Context, sess core.Session, sr StartRequest) (Result, error) {
	id, ct, err := svc.resolve(ctx, sess, sr.Target, sr.ContentType)
	if err != nil {
		return Result{}, err
	}
	fresh, release := svc.claim(ctx, id, "start", sr.Nonce)
	if !fresh {
		res, err := svc.duplicate(ctx, id)
		if err == nil {
			res.ResumeState = svc.decodeResume(sess, res.Record)
		}
		return res, err
	}

	at := sessionNow(sess)
	var res Result
	err = svc.tx.WithinTx(ctx, id.LockKey(), func(exec core.DBExecutor) error {
		seed := NewRecord(id, ct, at)
		seed.ID = newID()
		rec, err := svc.repo.LockRecord(ctx, seed, exec)
		if err != nil {
			return errors.Wrap(err, "locking record")
		}

		retry := rec.VisitCount > 0 && rec.LastSeenAt != nil && at.Sub(*rec.LastSeenAt) < svc.window
		if !retry {
			rec.VisitCount++
		}
		_, anomaly := svc.accrual.Reopen(&rec, at)
		svc.logAnomaly(sess, id, anomaly)
		if rec.Status == StatusNotStarted {
			_ = rec.transition(StatusInProgress, at)
		}
		rec.UpdatedAt = at
		if rec, err = svc.repo.SaveRecord(ctx, rec, exec); err != nil {
			return errors.Wrap(err, "saving record")
		}

		key := CourseKey{ClientID: id.ClientID, UserID: id.UserID, CourseID: id.CourseID}
		if err = svc.pointAggregate(ctx, key, id.ContentID, at, exec); err != nil {
			return err
		}
		res = Result{Record: rec, Duplicate: retry}
		return nil
	})
	if err != nil {
		release()
		return Result{}, err
	}
	res.ResumeState = svc.decodeResume(sess, res.Record)
	return res, nil
}

// pointAggregate moves the "current content" pointer of the learner's own course aggregate.
func (svc *Service) pointAggregate(ctx context.Context, key CourseKey, contentID string, at time.Time, exec core.DBExecutor) error {
	agg, err := svc.repo.LockAggregate(ctx, NewCourseAggregate(key, at), exec)
	if err != nil {
		return errors.Wrap(err, "locking aggregate")
	}
	if agg.CurrentContentID == contentID && agg.Status != StatusNotStarted {
		return nil
	}
	agg.CurrentContentID = contentID

	reqs, err := svc.dir.ListRequirements(ctx, key.ClientID, key.CourseID)
	if err != nil {
		return errors.Wrap(err, "listing course requirements")
	}
	rows, err := svc.repo.ListPrerequisiteCompletions(ctx, key, exec)
	if err != nil {
		return errors.Wrap(err, "listing prerequisite completions")
	}
	agg.Recompute(reqs, rows, at)
	_, err = svc.repo.SaveAggregate(ctx, agg, exec)
	return errors.Wrap(err, "saving aggregate")
}

// Update applies a progress ping: time accrues from the previous ping, the resume state follows
// the last writer by sent_at, and the evaluator runs. A ping that only repeats the previous one
// inside the dedupe window is a retry and writes nothing.
func (svc *Service) Update(ctx context.Context, sess core.Session, ur UpdateRequest) (Result, error) {
	id, ct, err := svc.resolve(ctx, sess, ur.Target, ur.ContentType)
	if err != nil {
		return Result{}, err
	}

	var blob []byte
	if ur.ResumeState != nil {
		// too large: rejected as a whole, the stored state stays
		if blob, err = EncodeResume(ct, []byte(*ur.ResumeState)); err != nil {
			return Result{}, err
		}
	}

	fresh, release := svc.claim(ctx, id, "update", ur.Nonce)
	if !fresh {
		return svc.duplicate(ctx, id)
	}

	at := sessionNow(sess)
	var res Result
	err = svc.tx.WithinTx(ctx, id.LockKey(), func(exec core.DBExecutor) error {
		seed := NewRecord(id, ct, at)
		seed.ID = newID()
		rec, err := svc.repo.LockRecord(ctx, seed, exec)
		if err != nil {
			return errors.Wrap(err, "locking record")
		}

		if svc.isRetry(rec, ur, blob, at) {
			res = Result{Record: rec, Duplicate: true}
			return nil
		}

		_, anomaly := svc.accrual.Ping(&rec, at)
		svc.logAnomaly(sess, id, anomaly)

		if blob != nil {
			sentAt := svc.accrual.ClampClientTime(ur.SentAt, at)
			if rec.ResumeUpdatedAt == nil || !sentAt.Before(*rec.ResumeUpdatedAt) {
				rec.Resume = blob
				rec.ResumeUpdatedAt = timePtr(sentAt)
			}
		}
		applyEvidence(&rec, ur.Score, ur.Progress, ur.StatusHint)

		completed := svc.evaluator.Evaluate(&rec, signalFromHint(ur.StatusHint), at)
		rec.UpdatedAt = at
		if rec, err = svc.repo.SaveRecord(ctx, rec, exec); err != nil {
			return errors.Wrap(err, "saving record")
		}

		res = Result{Record: rec, Completed: completed}
		if completed {
			if res.Cascade, err = svc.propagator.OnContentCompleted(ctx, rec, at, exec); err != nil {
				return errors.Wrap(err, "cascading completion")
			}
		}
		return nil
	})
	if err != nil {
		release()
		return Result{}, err
	}
	svc.notifyUnlocked(ctx, sess, res.Cascade.Unlocked)
	return res, nil
}

// isRetry reports whether ur repeats the last applied ping of rec.
func (svc *Service) isRetry(rec Record, ur UpdateRequest, blob []byte, at time.Time) bool {
	if rec.LastSeenAt == nil || at.Sub(*rec.LastSeenAt) >= svc.window || ur.hasEvidence() {
		return false
	}
	return blob == nil || bytes.Equal(blob, rec.Resume)
}

// applyEvidence stores the durable completion evidence of a request.
// The played/viewed percentage only ever grows.
func applyEvidence(rec *Record, score, progress *float64, hint string) {
	if score != nil {
		s := *score
		rec.Score = &s
	}
	if progress != nil && *progress > rec.ProgressPercent {
		rec.ProgressPercent = *progress
	}
	if isLessonStatus(hint) {
		rec.LessonStatus = hint
	}
}

// Complete forces an evaluation pass with an explicit completion signal. It credits no ping time;
// a (started_at, completed_at) pair may raise the accrued time. Completing a completed record is
// a no-op.
func (svc *Service) Complete(ctx context.Context, sess core.Session, cr CompleteRequest) (Result, error) {
	id, ct, err := svc.resolve(ctx, sess, cr.Target, cr.ContentType)
	if err != nil {
		return Result{}, err
	}
	fresh, release := svc.claim(ctx, id, "complete", cr.Nonce)
	if !fresh {
		return svc.duplicate(ctx, id)
	}

	at := sessionNow(sess)
	var res Result
	err = svc.tx.WithinTx(ctx, id.LockKey(), func(exec core.DBExecutor) error {
		seed := NewRecord(id, ct, at)
		seed.ID = newID()
		rec, err := svc.repo.LockRecord(ctx, seed, exec)
		if err != nil {
			return errors.Wrap(err, "locking record")
		}

		if cr.StartedAt != nil || cr.CompletedAt != nil {
			startedAt, completedAt := at, at
			switch {
			case cr.StartedAt != nil:
				startedAt = *cr.StartedAt
			case rec.StartedAt != nil:
				startedAt = *rec.StartedAt
			}
			if cr.CompletedAt != nil {
				completedAt = *cr.CompletedAt
			}
			_, anomaly := svc.accrual.Reconcile(&rec, startedAt, completedAt, at)
			svc.logAnomaly(sess, id, anomaly)
		}
		svc.accrual.Touch(&rec, at)
		applyEvidence(&rec, cr.Score, nil, cr.StatusHint)

		sig := signalFromHint(cr.StatusHint)
		sig.MarkComplete = true
		completed := svc.evaluator.Evaluate(&rec, sig, at)
		rec.UpdatedAt = at
		if rec, err = svc.repo.SaveRecord(ctx, rec, exec); err != nil {
			return errors.Wrap(err, "saving record")
		}

		res = Result{Record: rec, Completed: completed}
		if completed {
			if res.Cascade, err = svc.propagator.OnContentCompleted(ctx, rec, at, exec); err != nil {
				return errors.Wrap(err, "cascading completion")
			}
		}
		return nil
	})
	if err != nil {
		release()
		return Result{}, err
	}
	svc.notifyUnlocked(ctx, sess, res.Cascade.Unlocked)
	return res, nil
}

// Resume returns the stored resume payload, nil when the content was never opened.
// An unknown content is ErrNotFound.
func (svc *Service) Resume(ctx context.Context, sess core.Session, t Target) (*string, error) {
	id, _, err := svc.resolve(ctx, sess, t, "")
	if err != nil {
		return nil, err
	}
	rec, err := svc.repo.GetRecord(ctx, id)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return nil, nil
		}
		return nil, errors.Wrap(err, "getting record")
	}
	return svc.decodeResume(sess, rec), nil
}

// CourseProgress returns the course aggregate of a learner. A course nobody has touched yet is
// computed on read, not stored.
func (svc *Service) CourseProgress(ctx context.Context, sess core.Session, t CourseTarget) (CourseView, error) {
	if _, err := svc.authorize(ctx, sess, t.UserID, t.CourseID); err != nil {
		return CourseView{}, err
	}
	key := CourseKey{ClientID: sess.ClientID, UserID: t.UserID, CourseID: t.CourseID}

	rows, err := svc.repo.ListPrerequisiteCompletions(ctx, key)
	if err != nil {
		return CourseView{}, errors.Wrap(err, "listing prerequisite completions")
	}
	agg, err := svc.repo.GetAggregate(ctx, key)
	if errors.Cause(err) == ErrNotFound {
		reqs, err := svc.dir.ListRequirements(ctx, key.ClientID, key.CourseID)
		if err != nil {
			return CourseView{}, errors.Wrap(err, "listing course requirements")
		}
		at := sessionNow(sess)
		agg = NewCourseAggregate(key, at)
		agg.Recompute(reqs, rows, at)
	} else if err != nil {
		return CourseView{}, errors.Wrap(err, "getting aggregate")
	}
	return CourseView{CourseAggregate: agg, Prerequisites: rows}, nil
}

// Reset reopens a completed record (admins only). Accrued time and visits are kept, the
// completion evidence is cleared and withdrawn from the projections. Resetting a record that is
// not completed is a no-op.
func (svc *Service) Reset(ctx context.Context, sess core.Session, t Target) (Result, error) {
	if !sess.IsAdmin {
		svc.logger.Warn("progress: reset by non admin", sess)
		return Result{}, ErrForbidden
	}
	id, _, err := svc.resolve(ctx, sess, t, "")
	if err != nil {
		return Result{}, err
	}

	at := sessionNow(sess)
	var res Result
	err = svc.tx.WithinTx(ctx, id.LockKey(), func(exec core.DBExecutor) error {
		rec, err := svc.repo.GetRecord(ctx, id, exec)
		if err != nil {
			return errors.Wrap(err, "getting record")
		}
		// lock it
		if rec, err = svc.repo.LockRecord(ctx, rec, exec); err != nil {
			return errors.Wrap(err, "locking record")
		}
		if err = rec.reopen(); err != nil {
			res = Result{Record: rec, Duplicate: true}
			return nil
		}
		rec.UpdatedAt = at
		if rec, err = svc.repo.SaveRecord(ctx, rec, exec); err != nil {
			return errors.Wrap(err, "saving record")
		}
		res = Result{Record: rec}
		if res.Cascade, err = svc.propagator.OnContentReset(ctx, rec, at, exec); err != nil {
			return errors.Wrap(err, "cascading reset")
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	svc.logger.Info(fmt.Sprintf("progress: %s/%s/%s reset", id.UserID, id.CourseID, id.ContentID), sess)
	return res, nil
}

// Recascade recomputes the projections and the aggregate of a learner's course from the content
// records (admins only).
func (svc *Service) Recascade(ctx context.Context, sess core.Session, t CourseTarget) (CourseAggregate, error) {
	if !sess.IsAdmin {
		svc.logger.Warn("progress: recascade by non admin", sess)
		return CourseAggregate{}, ErrForbidden
	}
	if _, err := svc.authorize(ctx, sess, t.UserID, t.CourseID); err != nil {
		return CourseAggregate{}, err
	}

	key := CourseKey{ClientID: sess.ClientID, UserID: t.UserID, CourseID: t.CourseID}
	at := sessionNow(sess)
	var cascade Cascade
	err := svc.tx.WithinTx(ctx, key.ClientID+"/"+key.UserID, func(exec core.DBExecutor) error {
		var err error
		cascade, err = svc.propagator.Rebuild(ctx, key, at, exec)
		return errors.Wrap(err, "rebuilding course progress")
	})
	if err != nil {
		return CourseAggregate{}, err
	}
	svc.notifyUnlocked(ctx, sess, cascade.Unlocked)
	if len(cascade.Aggregates) == 0 {
		return CourseAggregate{}, errors.New("rebuild produced no aggregate")
	}
	return cascade.Aggregates[0], nil
}

// notifyUnlocked emails the learner about each newly unlocked course. It runs after commit, so a
// rolled back cascade never notifies.
func (svc *Service) notifyUnlocked(ctx context.Context, sess core.Session, unlocked []CourseAggregate) {
	for _, agg := range unlocked {
		svc.logger.Info(fmt.Sprintf("progress: course %s unlocked for %s", agg.CourseID, agg.UserID), sess)

		enr, err := svc.dir.GetEnrollment(ctx, agg.ClientID, agg.UserID, agg.CourseID)
		if err != nil {
			if errors.Cause(err) != ErrNotFound {
				svc.logger.Error(fmt.Sprintf("progress: getting enrollment to notify: %v", err), err, sess)
			}
			continue
		}
		if enr.LearnerEmail == "" {
			continue
		}
		svc.mailSvc.SendMessages(&core.EmailMessage{
			To:           []mail.Address{{Name: enr.LearnerName, Address: enr.LearnerEmail}},
			Subject:      "Course unlocked: " + enr.CourseTitle,
			TemplateName: courseUnlockedTemplate,
			TemplateData: map[string]interface{}{
				"Name":        enr.LearnerName,
				"CourseTitle": enr.CourseTitle,
				"CourseID":    enr.CourseID,
			},
		})
	}
}
