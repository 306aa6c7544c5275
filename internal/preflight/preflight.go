// Package preflight validates user-composed drafts against the origin before
// they are allowed into the render queue.
package preflight

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/castwave/release-factory/internal/origin"
	"github.com/castwave/release-factory/internal/storage"
	"github.com/castwave/release-factory/internal/store"
)

// FieldError pins a validation problem to one draft field.
type FieldError struct {
	Field  string `json:"field"`
	Detail string `json:"detail"`
}

// ValidationError carries every field problem found in one pass.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Detail)
	}
	return "preflight: " + strings.Join(parts, "; ")
}

// resolved holds the origin entries a valid draft maps to.
type resolved struct {
	tracks     []origin.Entry
	background origin.Entry
	cover      *origin.Entry
}

// Preflight resolves draft references against the origin tree.
type Preflight struct {
	store  *store.Store
	origin origin.Origin
	logger *slog.Logger
}

// New creates a Preflight.
func New(st *store.Store, org origin.Origin, logger *slog.Logger) *Preflight {
	return &Preflight{store: st, origin: org, logger: logger}
}

// Submit validates the draft and, on success, materializes its release, job
// and input links, leaving the job in READY_FOR_RENDER. Validation problems
// come back as a *ValidationError.
func (p *Preflight) Submit(ctx context.Context, draftID int64) (int64, error) {
	draft, err := p.store.GetDraft(ctx, draftID)
	if err != nil {
		return 0, err
	}
	if draft.JobID != nil {
		return *draft.JobID, nil
	}

	channel, err := p.store.GetChannelBySlug(ctx, draft.ChannelSlug)
	if err != nil {
		return 0, err
	}

	res, verr := p.resolve(ctx, draft)
	if verr != nil {
		return 0, verr
	}

	jobID, err := p.materialize(ctx, channel, draft, res)
	if err != nil {
		return 0, err
	}
	p.logger.Info("draft submitted", "draft_id", draft.ID, "job_id", jobID)
	return jobID, nil
}

// resolve maps every draft reference to exactly one origin entry. Zero or
// multiple matches are both reported, per field.
func (p *Preflight) resolve(ctx context.Context, draft *store.Draft) (*resolved, *ValidationError) {
	verr := &ValidationError{}
	fail := func(field, format string, args ...any) {
		verr.Fields = append(verr.Fields, FieldError{Field: field, Detail: fmt.Sprintf(format, args...)})
	}

	channelFolder, err := p.origin.ChannelFolder(ctx, draft.ChannelSlug)
	if err != nil {
		fail("channel", "folder not found: %v", err)
		return nil, verr
	}

	folder := func(name string) *origin.Entry {
		entry, err := p.origin.FindFolder(ctx, channelFolder.ID, name)
		if err != nil {
			fail(strings.ToLower(name), "folder missing under channel")
			return nil
		}
		return entry
	}
	imageDir := folder("Image")
	audioDir := folder("Audio")
	var coverDir *origin.Entry
	if draft.CoverName != "" {
		coverDir = folder("Covers")
	}
	if len(verr.Fields) > 0 {
		return nil, verr
	}

	res := &resolved{}

	if entry, detail := p.matchOne(ctx, imageDir.ID, draft.BackgroundName+"."+draft.BackgroundExt); detail != "" {
		fail("background", "%s", detail)
	} else {
		res.background = *entry
	}

	if draft.CoverName != "" {
		if entry, detail := p.matchOne(ctx, coverDir.ID, draft.CoverName+"."+draft.CoverExt); detail != "" {
			fail("cover", "%s", detail)
		} else {
			res.cover = entry
		}
	}

	tracks, detail := p.matchAudio(ctx, audioDir.ID, draft.AudioIDs)
	if detail != "" {
		fail("audio", "%s", detail)
	} else {
		res.tracks = tracks
	}

	if len(verr.Fields) > 0 {
		return nil, verr
	}
	return res, nil
}

// matchOne requires exactly one direct child with the given name,
// case-insensitively.
func (p *Preflight) matchOne(ctx context.Context, folderID, name string) (*origin.Entry, string) {
	entries, err := p.origin.List(ctx, folderID)
	if err != nil {
		return nil, fmt.Sprintf("listing failed: %v", err)
	}
	var matches []origin.Entry
	for _, e := range entries {
		if !e.IsDir && strings.EqualFold(e.Name, name) {
			matches = append(matches, e)
		}
	}
	if len(matches) != 1 {
		return nil, fmt.Sprintf("%s: matches=%d", name, len(matches))
	}
	return &matches[0], ""
}

// matchAudio normalizes each whitespace-separated token to a 3-digit id and
// requires exactly one NNN_*.wav match anywhere under the audio tree.
func (p *Preflight) matchAudio(ctx context.Context, audioFolderID, audioIDs string) ([]origin.Entry, string) {
	tokens := strings.Fields(audioIDs)
	if len(tokens) == 0 {
		return nil, "no track ids"
	}

	files, err := p.origin.EnumerateTree(ctx, audioFolderID)
	if err != nil {
		return nil, fmt.Sprintf("listing failed: %v", err)
	}

	var tracks []origin.Entry
	for _, token := range tokens {
		id, err := storage.NormalizeTrackID(token)
		if err != nil {
			return nil, fmt.Sprintf("bad id %q", token)
		}
		var matches []origin.Entry
		for _, f := range files {
			if strings.HasPrefix(f.Name, id+"_") && strings.EqualFold(path.Ext(f.Name), ".wav") {
				matches = append(matches, f)
			}
		}
		if len(matches) != 1 {
			return nil, fmt.Sprintf("%s: matches=%d", id, len(matches))
		}
		tracks = append(tracks, matches[0])
	}
	return tracks, ""
}

// materialize turns the resolved draft into a release, a READY_FOR_RENDER
// job and its input links through one store transaction.
func (p *Preflight) materialize(ctx context.Context, channel *store.Channel, draft *store.Draft, res *resolved) (int64, error) {
	input := func(entry origin.Entry, kind store.AssetKind, role string, order int) store.DraftInput {
		return store.DraftInput{
			Asset: store.Asset{
				Kind:     kind,
				Origin:   p.origin.Name(),
				OriginID: entry.ID,
			},
			Role:     role,
			OrderIdx: order,
		}
	}

	inputs := make([]store.DraftInput, 0, len(res.tracks)+2)
	for idx, track := range res.tracks {
		inputs = append(inputs, input(track, store.AssetAudio, store.RoleTrack, idx))
	}
	inputs = append(inputs, input(res.background, store.AssetImage, store.RoleBackground, 0))
	if res.cover != nil {
		inputs = append(inputs, input(*res.cover, store.AssetImage, store.RoleCover, 0))
	}

	rel := store.Release{
		ChannelID:     channel.ID,
		Title:         draft.Title,
		Tags:          splitCSV(draft.TagsCSV),
		OriginMetaKey: fmt.Sprintf("draft:%d", draft.ID),
	}
	return p.store.MaterializeDraft(ctx, rel, draft.ID, inputs, 100)
}

func splitCSV(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
