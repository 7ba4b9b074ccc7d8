package app

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-playground/validator/v10"
	"github.com/hylla/blockenv/internal/domain"
)

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// DefaultMaxOperations caps one batch when no limit is configured.
const DefaultMaxOperations = 500

// EnvironmentConfig holds optional collaborators and limits.
type EnvironmentConfig struct {
	MaxOperations int
	Validator     SchemaValidator
	Auth          AuthProvider
	Resolvers     *ResolverRegistry
	Metrics       *Metrics
}

// SaveRequest is one client edit session against a layout.
type SaveRequest struct {
	LayoutID       string            `json:"layout_id" validate:"required"`
	OrganisationID string            `json:"organisation_id" validate:"required"`
	Operations     domain.Operations `json:"operations"`
	Version        int64             `json:"version"`
}

// SaveResult reports the outcome of a batch save. Conflicts are results,
// not errors.
type SaveResult struct {
	Success       bool              `json:"success"`
	Conflict      bool              `json:"conflict"`
	IDMappings    map[string]string `json:"id_mappings"`
	LatestVersion int64             `json:"latest_version"`
}

// BatchEnvironment reduces, normalizes, and applies client operation
// batches against a versioned layout.
type BatchEnvironment struct {
	repo          Repository
	idGen         IDGenerator
	clock         Clock
	maxOperations int
	schemas       SchemaValidator
	auth          AuthProvider
	resolvers     *ResolverRegistry
	metrics       *Metrics
	validate      *validator.Validate
}

// NewBatchEnvironment constructs a batch environment over repo.
func NewBatchEnvironment(repo Repository, idGen IDGenerator, clock Clock, cfg EnvironmentConfig) (*BatchEnvironment, error) {
	if idGen == nil {
		return nil, fmt.Errorf("%w: id generator is required", ErrInvalidRequest)
	}
	if clock == nil {
		clock = time.Now
	}
	if cfg.MaxOperations <= 0 {
		cfg.MaxOperations = DefaultMaxOperations
	}
	if cfg.Validator == nil {
		cfg.Validator = NewJSONSchemaValidator()
	}
	if cfg.Resolvers == nil {
		registry, err := NewResolverRegistry(NewBlockResolver(repo))
		if err != nil {
			return nil, err
		}
		cfg.Resolvers = registry
	}
	return &BatchEnvironment{
		repo:          repo,
		idGen:         idGen,
		clock:         clock,
		maxOperations: cfg.MaxOperations,
		schemas:       cfg.Validator,
		auth:          cfg.Auth,
		resolvers:     cfg.Resolvers,
		metrics:       cfg.Metrics,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// Save applies one batch atomically. A request whose version does not
// exceed the stored layout version returns a conflict without writing.
func (e *BatchEnvironment) Save(ctx context.Context, req SaveRequest) (SaveResult, error) {
	started := time.Now()
	if err := e.checkRequest(ctx, req); err != nil {
		e.metrics.observeBatch(outcomeFailed, started)
		return SaveResult{}, err
	}

	var result SaveResult
	err := e.repo.RunInTx(ctx, func(tx Repository) error {
		layout, err := tx.GetLayout(ctx, req.LayoutID)
		if err != nil {
			return fmt.Errorf("load layout %s: %w", req.LayoutID, err)
		}
		if layout.OrganisationID != req.OrganisationID {
			return fmt.Errorf("%w: layout %s", ErrCrossOrganisation, layout.ID)
		}
		if !layout.Accepts(req.Version) {
			result = SaveResult{Conflict: true, LatestVersion: layout.Version, IDMappings: map[string]string{}}
			return nil
		}

		filtered := FilterCascadeDeletedOperations(req.Operations)
		normalized := NormalizeOperations(filtered)
		plan := PlanApplyOrder(normalized)
		e.metrics.observeDropped(dropReasonCascade, len(req.Operations)-len(filtered))
		e.metrics.observeDropped(dropReasonReduced, len(filtered)-len(plan))

		run := e.newBatch(tx, req)
		for _, op := range plan {
			if err := run.apply(ctx, op); err != nil {
				return fmt.Errorf("apply %s %s: %w", op.Kind(), op.Header().BlockID, err)
			}
		}
		if err := tx.AdvanceLayoutVersion(ctx, layout.ID, layout.Version, req.Version); err != nil {
			return err
		}
		if err := run.logActivity(ctx); err != nil {
			return err
		}
		result = SaveResult{Success: true, IDMappings: run.ids, LatestVersion: req.Version}
		return nil
	})
	switch {
	case errors.Is(err, ErrVersionConflict):
		layout, loadErr := e.repo.GetLayout(ctx, req.LayoutID)
		if loadErr != nil {
			e.metrics.observeBatch(outcomeFailed, started)
			return SaveResult{}, loadErr
		}
		log.Warn("layout version advanced concurrently", "layout_id", req.LayoutID, "version", req.Version, "latest", layout.Version)
		e.metrics.observeBatch(outcomeConflict, started)
		return SaveResult{Conflict: true, LatestVersion: layout.Version, IDMappings: map[string]string{}}, nil
	case err != nil:
		e.metrics.observeBatch(outcomeFailed, started)
		return SaveResult{}, err
	case result.Conflict:
		log.Info("stale layout version rejected", "layout_id", req.LayoutID, "version", req.Version, "latest", result.LatestVersion)
		e.metrics.observeBatch(outcomeConflict, started)
	default:
		e.metrics.observeBatch(outcomeApplied, started)
	}
	return result, nil
}

// checkRequest validates request shape and caller membership.
func (e *BatchEnvironment) checkRequest(ctx context.Context, req SaveRequest) error {
	if err := e.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			fields := make([]string, 0, len(fieldErrs))
			for _, fieldErr := range fieldErrs {
				fields = append(fields, fieldErr.Field()+" "+fieldErr.Tag())
			}
			return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if len(req.Operations) > e.maxOperations {
		return fmt.Errorf("%w: %d operations exceeds limit %d", ErrInvalidRequest, len(req.Operations), e.maxOperations)
	}
	for _, op := range req.Operations {
		if err := domain.ValidateOperation(op); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	if e.auth == nil {
		return nil
	}
	if _, err := e.auth.CurrentUserID(ctx); err != nil {
		return err
	}
	if !e.auth.HasOrganisationRole(ctx, req.OrganisationID, RoleEditor) {
		return fmt.Errorf("%w: editor role required in %s", ErrForbidden, req.OrganisationID)
	}
	return nil
}

// batch carries the per-save state threaded through every operation.
type batch struct {
	env       *BatchEnvironment
	tx        Repository
	hierarchy *HierarchyManager
	refs      *ReferenceManager
	req       SaveRequest
	now       time.Time
	ids       map[string]string
	applied   []domain.Operation
}

func (e *BatchEnvironment) newBatch(tx Repository, req SaveRequest) *batch {
	return &batch{
		env:       e,
		tx:        tx,
		hierarchy: NewHierarchyManager(tx, tx),
		refs:      NewReferenceManager(tx, e.resolvers, e.idGen),
		req:       req,
		now:       e.clock().UTC(),
		ids:       map[string]string{},
	}
}

// resolve maps a temporary id to its persisted id.
func (b *batch) resolve(id string) string {
	id = strings.TrimSpace(id)
	if persisted, ok := b.ids[id]; ok {
		return persisted
	}
	return id
}

// apply dispatches one operation.
func (b *batch) apply(ctx context.Context, op domain.Operation) error {
	var (
		applied bool
		err     error
	)
	switch v := op.(type) {
	case domain.AddOperation:
		applied, err = true, b.applyAdd(ctx, v)
	case domain.UpdateOperation:
		applied, err = true, b.applyUpdate(ctx, v)
	case domain.MoveOperation:
		applied, err = true, b.applyMove(ctx, v)
	case domain.ReorderOperation:
		applied, err = true, b.applyReorder(ctx, v)
	case domain.RemoveOperation:
		applied, err = b.applyRemove(ctx, v)
	default:
		return fmt.Errorf("%w: unsupported operation %T", ErrInvalidRequest, op)
	}
	if err != nil {
		return err
	}
	if applied {
		b.applied = append(b.applied, op)
		b.env.metrics.observeApplied(string(op.Kind()))
	}
	return nil
}

func (b *batch) applyAdd(ctx context.Context, op domain.AddOperation) error {
	blockType, err := b.tx.GetBlockType(ctx, b.req.OrganisationID, op.TypeKey)
	if err != nil {
		return fmt.Errorf("block type %q: %w", op.TypeKey, err)
	}
	if blockType.Archived {
		return fmt.Errorf("%w: %s", ErrArchivedBlockType, blockType.Key)
	}
	if !blockType.AvailableTo(b.req.OrganisationID) {
		return fmt.Errorf("%w: block type %s", ErrCrossOrganisation, blockType.Key)
	}
	block, err := domain.NewBlock(domain.BlockInput{
		ID:             b.env.idGen(),
		OrganisationID: b.req.OrganisationID,
		LayoutID:       b.req.LayoutID,
		Type:           blockType,
		Name:           op.Name,
		Payload:        b.resolvePayload(op.Payload),
	}, b.now)
	if err != nil {
		return err
	}
	if err := b.checkSchema(block); err != nil {
		return err
	}
	if err := b.tx.SaveBlocks(ctx, []domain.Block{block}); err != nil {
		return err
	}
	b.ids[strings.TrimSpace(op.BlockID)] = block.ID

	if parentID := b.resolve(op.ParentID); parentID != "" {
		delta, err := b.hierarchy.PrepareChildAdditions(ctx, parentID, []ChildAddition{{Child: block, Index: op.Index}})
		if err != nil {
			return err
		}
		if err := b.hierarchy.Apply(ctx, delta); err != nil {
			return err
		}
	}
	return b.refs.SyncPayload(ctx, block)
}

func (b *batch) applyUpdate(ctx context.Context, op domain.UpdateOperation) error {
	block, err := b.loadBlock(ctx, op.BlockID)
	if err != nil {
		return err
	}
	if err := block.ApplyUpdate(op.Name, b.resolvePayload(op.Payload), b.now); err != nil {
		return err
	}
	if err := b.checkSchema(block); err != nil {
		return err
	}
	if err := b.tx.SaveBlocks(ctx, []domain.Block{block}); err != nil {
		return err
	}
	if op.Payload == nil {
		return nil
	}
	return b.refs.SyncPayload(ctx, block)
}

func (b *batch) applyMove(ctx context.Context, op domain.MoveOperation) error {
	block, err := b.loadBlock(ctx, op.BlockID)
	if err != nil {
		return err
	}
	delta, err := b.hierarchy.PrepareChildMoves(ctx, []ChildMove{{
		ChildID:     block.ID,
		NewParentID: b.resolve(op.ToParentID),
		Index:       op.Index,
	}})
	if err != nil {
		return err
	}
	return b.hierarchy.Apply(ctx, delta)
}

func (b *batch) applyReorder(ctx context.Context, op domain.ReorderOperation) error {
	delta, err := b.hierarchy.PrepareChildReorders(ctx, []ChildReorder{{
		ParentID: b.resolve(op.ParentID),
		ChildID:  b.resolve(op.BlockID),
		NewIndex: op.ToIndex,
	}})
	if err != nil {
		return err
	}
	return b.hierarchy.Apply(ctx, delta)
}

// applyRemove deletes a block with its cascade set. Removing an unknown
// block is a no-op and reports false.
func (b *batch) applyRemove(ctx context.Context, op domain.RemoveOperation) (bool, error) {
	block, err := b.loadBlock(ctx, op.BlockID)
	if errors.Is(err, ErrNotFound) {
		log.Debug("remove skipped for unknown block", "block_id", op.BlockID)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	cascade := []string{block.ID}
	if len(op.ChildrenIDs) > 0 {
		childIDs := make([]string, 0, len(op.ChildrenIDs))
		for _, childID := range slices.Sorted(maps.Keys(op.ChildrenIDs)) {
			if id := b.resolve(childID); id != block.ID && !slices.Contains(childIDs, id) {
				childIDs = append(childIDs, id)
			}
		}
		children, err := b.tx.ListBlocksByID(ctx, childIDs)
		if err != nil {
			return false, err
		}
		for _, child := range children {
			if child.OrganisationID == b.req.OrganisationID {
				cascade = append(cascade, child.ID)
			}
		}
	} else {
		plan, err := b.hierarchy.PrepareRemovalCascade(ctx, []string{block.ID})
		if err != nil {
			return false, err
		}
		for _, warning := range plan.Warnings {
			log.Warn("cascade warning", "root", block.ID, "block_id", warning.BlockID, "message", warning.Message)
		}
		cascade = plan.BlockIDs
	}

	detach, err := b.hierarchy.PrepareDetach(ctx, []string{block.ID})
	if err != nil {
		return false, err
	}
	if err := b.hierarchy.Apply(ctx, detach); err != nil {
		return false, err
	}
	if err := b.tx.DeleteEdgesForBlocks(ctx, cascade); err != nil {
		return false, fmt.Errorf("delete cascade edges: %w", err)
	}
	if err := b.tx.DeleteReferencesForBlocks(ctx, cascade); err != nil {
		return false, fmt.Errorf("delete cascade references: %w", err)
	}
	if err := b.tx.DeleteBlocksByID(ctx, cascade); err != nil {
		return false, fmt.Errorf("delete cascade blocks: %w", err)
	}
	return true, nil
}

// loadBlock resolves id and loads the block, enforcing organisation scope.
func (b *batch) loadBlock(ctx context.Context, id string) (domain.Block, error) {
	block, err := b.tx.GetBlock(ctx, b.resolve(id))
	if err != nil {
		return domain.Block{}, err
	}
	if block.OrganisationID != b.req.OrganisationID {
		return domain.Block{}, fmt.Errorf("%w: block %s", ErrCrossOrganisation, block.ID)
	}
	return block, nil
}

// resolvePayload rewrites temporary block ids inside link payloads.
func (b *batch) resolvePayload(payload domain.Payload) domain.Payload {
	switch v := payload.(type) {
	case domain.SingleLinkPayload:
		if v.Item.IsBlockLink() {
			v.Item.EntityID = b.resolve(v.Item.EntityID)
		}
		return v
	case domain.EntityListPayload:
		v.Items = slices.Clone(v.Items)
		for idx := range v.Items {
			if v.Items[idx].IsBlockLink() {
				v.Items[idx].EntityID = b.resolve(v.Items[idx].EntityID)
			}
		}
		return v
	default:
		return payload
	}
}

// checkSchema validates content data against the block type schema. Strict
// types reject issues; soft types log them.
func (b *batch) checkSchema(block domain.Block) error {
	content, ok := block.Payload.(domain.ContentPayload)
	if !ok {
		return nil
	}
	issues, err := b.env.schemas.Validate(block.Type.SchemaJSON, content.Data, block.Type.Strictness)
	if err != nil || len(issues) == 0 {
		return err
	}
	if block.Type.Strictness == domain.StrictnessStrict {
		return SchemaValidationError{TypeKey: block.Type.Key, Issues: issues}
	}
	for _, issue := range issues {
		log.Warn("block schema issue", "block_id", block.ID, "type", block.Type.Key, "path", issue.Path, "message", issue.Message)
	}
	return nil
}

// logActivity appends one audit row per applied operation.
func (b *batch) logActivity(ctx context.Context) error {
	actor, ok := MutationActorFromContext(ctx)
	if !ok {
		actor = MutationActor{ActorID: "blockenv", ActorType: domain.ActorTypeSystem}
	}
	for _, op := range b.applied {
		header := op.Header()
		entry := domain.Activity{
			OrganisationID: b.req.OrganisationID,
			LayoutID:       b.req.LayoutID,
			BlockID:        b.resolve(header.BlockID),
			Operation:      op.Kind(),
			ActorID:        actor.ActorID,
			ActorType:      actor.ActorType,
			Metadata: map[string]string{
				"timestamp": strconv.FormatInt(header.Timestamp, 10),
				"version":   strconv.FormatInt(b.req.Version, 10),
			},
			OccurredAt: b.now,
		}
		if blockID := strings.TrimSpace(header.BlockID); blockID != "" {
			if _, temp := b.ids[blockID]; temp {
				entry.Metadata["temp_id"] = blockID
			}
		}
		if err := b.tx.LogActivity(ctx, entry); err != nil {
			return fmt.Errorf("log activity: %w", err)
		}
	}
	return nil
}
