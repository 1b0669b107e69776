package editsession

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/coflow/coflow/pkg/domain"
	"github.com/coflow/coflow/pkg/domain/workflow"
	"github.com/coflow/coflow/pkg/graph"
)

// applyOperation validates and applies op against the draft in place,
// returning applied=false (no error) if op.ID has already been seen —
// clients retry unacknowledged sends, and the append-only log is keyed on
// EditOperation.ID precisely so a retry is a no-op rather than a double
// apply.
func (s *Session) applyOperation(op workflow.EditOperation) (appliedResult, error) {
	if seq, ok := s.ops.seen(op.ID); ok {
		return appliedResult{applied: false, seq: seq}, nil
	}

	if err := s.validateAndApply(op); err != nil {
		return appliedResult{}, err
	}

	op.Seq = s.ops.nextSeq()
	op.InsertedAt = domain.Now()
	s.draft.UpdatedAt = op.InsertedAt
	s.ops.record(op)

	if s.repo != nil {
		if err := s.repo.Append([]workflow.EditOperation{op}); err != nil {
			return appliedResult{}, fmt.Errorf("editsession: persisting operation: %w", err)
		}
	}
	return appliedResult{applied: true, seq: op.Seq}, nil
}

// appliedResult is applyOperation's outcome: whether this call newly applied
// the operation, and the seq it holds either way (spec.md §4.2's
// {seq, status: applied | duplicate} response shape).
type appliedResult struct {
	applied bool
	seq     int64
}

func (s *Session) validateAndApply(op workflow.EditOperation) error {
	switch op.Type {
	case workflow.OpAddStep:
		return s.applyAddStep(op.Payload)
	case workflow.OpRemoveStep:
		return s.applyRemoveStep(op.Payload)
	case workflow.OpUpdateStepConfig:
		return s.applyUpdateStepConfig(op.Payload)
	case workflow.OpUpdateStepPosition:
		return s.applyUpdateStepPosition(op.Payload)
	case workflow.OpUpdateStepMetadata:
		return s.applyUpdateStepMetadata(op.Payload)
	case workflow.OpAddConnection:
		return s.applyAddConnection(op.Payload)
	case workflow.OpRemoveConnection:
		return s.applyRemoveConnection(op.Payload)
	case workflow.OpPinStepOutput:
		return s.applyPinStepOutput(op.Payload)
	case workflow.OpUnpinStepOutput:
		return s.applyUnpinStepOutput(op.Payload)
	case workflow.OpDisableStep:
		return s.applyDisableStep(op.Payload)
	case workflow.OpEnableStep:
		return s.applyEnableStep(op.Payload)
	default:
		return fmt.Errorf("editsession: unknown operation type %q", op.Type)
	}
}

func stringField(payload map[string]interface{}, key string) (string, error) {
	v, ok := payload[key]
	if !ok {
		return "", fmt.Errorf("editsession: payload missing %q", key)
	}
	str, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("editsession: payload field %q is not a string", key)
	}
	return str, nil
}

func (s *Session) applyAddStep(payload map[string]interface{}) error {
	id, err := stringField(payload, "id")
	if err != nil {
		return err
	}
	if s.draft.HasStep(id) {
		return workflow.ErrStepAlreadyExists
	}
	typeID, err := stringField(payload, "type_id")
	if err != nil {
		return err
	}
	name, _ := payload["name"].(string)
	config, _ := payload["config"].(map[string]interface{})

	step := workflow.Step{ID: id, TypeID: typeID, Name: name, Config: config}
	if pos, ok := payload["position"].(map[string]interface{}); ok {
		if x, ok := pos["x"].(float64); ok {
			step.Position.X = x
		}
		if y, ok := pos["y"].(float64); ok {
			step.Position.Y = y
		}
	}
	s.draft.Steps = append(s.draft.Steps, step)
	return nil
}

func (s *Session) applyRemoveStep(payload map[string]interface{}) error {
	id, err := stringField(payload, "id")
	if err != nil {
		return err
	}
	if !s.draft.HasStep(id) {
		return workflow.ErrStepNotFound
	}
	newSteps := s.draft.Steps[:0:0]
	for _, st := range s.draft.Steps {
		if st.ID != id {
			newSteps = append(newSteps, st)
		}
	}
	s.draft.Steps = newSteps

	newConns := s.draft.Connections[:0:0]
	for _, c := range s.draft.Connections {
		if c.SourceStepID != id && c.TargetStepID != id {
			newConns = append(newConns, c)
		}
	}
	s.draft.Connections = newConns

	delete(s.editor.DisabledSteps, id)
	delete(s.editor.PinnedOutputs, id)
	delete(s.editor.LockHolders, id)
	delete(s.editor.LockAcquired, id)
	return nil
}

// applyUpdateStepConfig applies an RFC 6902 JSON Patch document (payload
// "patch") to the target step's Config, per spec.md's "partial, concurrent-
// safe config edits" requirement. The patch is applied to a JSON-round-
// tripped copy of Config and only swapped in on success, so a malformed
// patch never leaves the step half-mutated.
func (s *Session) applyUpdateStepConfig(payload map[string]interface{}) error {
	id, err := stringField(payload, "step_id")
	if err != nil {
		return err
	}
	step := s.draft.StepByID(id)
	if step == nil {
		return workflow.ErrStepNotFound
	}
	patchRaw, ok := payload["patch"]
	if !ok {
		return fmt.Errorf("editsession: update_step_config payload missing \"patch\"")
	}
	patchDoc, err := json.Marshal(patchRaw)
	if err != nil {
		return fmt.Errorf("editsession: marshaling patch: %w", err)
	}
	patch, err := jsonpatch.DecodePatch(patchDoc)
	if err != nil {
		return fmt.Errorf("editsession: decoding json patch: %w", err)
	}

	current := step.Config
	if current == nil {
		current = map[string]interface{}{}
	}
	currentDoc, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("editsession: marshaling current config: %w", err)
	}
	patchedDoc, err := patch.Apply(currentDoc)
	if err != nil {
		return fmt.Errorf("editsession: applying json patch: %w", err)
	}
	var patched map[string]interface{}
	if err := json.Unmarshal(patchedDoc, &patched); err != nil {
		return fmt.Errorf("editsession: unmarshaling patched config: %w", err)
	}
	step.Config = patched
	return nil
}

func (s *Session) applyUpdateStepPosition(payload map[string]interface{}) error {
	id, err := stringField(payload, "step_id")
	if err != nil {
		return err
	}
	step := s.draft.StepByID(id)
	if step == nil {
		return workflow.ErrStepNotFound
	}
	x, xOK := payload["x"].(float64)
	y, yOK := payload["y"].(float64)
	if !xOK || !yOK {
		return fmt.Errorf("editsession: update_step_position requires numeric x and y")
	}
	step.Position = workflow.Position{X: x, Y: y}
	return nil
}

func (s *Session) applyUpdateStepMetadata(payload map[string]interface{}) error {
	id, err := stringField(payload, "step_id")
	if err != nil {
		return err
	}
	step := s.draft.StepByID(id)
	if step == nil {
		return workflow.ErrStepNotFound
	}
	changes, _ := payload["changes"].(map[string]interface{})
	if name, ok := changes["name"].(string); ok {
		step.Name = name
	}
	if notes, ok := changes["notes"].(string); ok {
		step.Notes = notes
	}
	if config, ok := changes["config"].(map[string]interface{}); ok {
		step.Config = config
	}
	return nil
}

func (s *Session) applyAddConnection(payload map[string]interface{}) error {
	id, err := stringField(payload, "id")
	if err != nil {
		return err
	}
	if s.draft.ConnectionByID(id) != nil {
		return workflow.ErrConnectionExists
	}
	sourceID, err := stringField(payload, "source_step_id")
	if err != nil {
		return err
	}
	targetID, err := stringField(payload, "target_step_id")
	if err != nil {
		return err
	}
	if sourceID == targetID {
		return workflow.ErrSelfLoopNotAllowed
	}
	if !s.draft.HasStep(sourceID) {
		return workflow.ErrSourceStepNotFound
	}
	if !s.draft.HasStep(targetID) {
		return workflow.ErrTargetStepNotFound
	}
	if graph.WouldCreateCycle(s.draft.Steps, s.draft.Connections, sourceID, targetID) {
		return workflow.ErrWouldCreateCycle
	}

	sourceOutput, _ := payload["source_output"].(string)
	if sourceOutput == "" {
		sourceOutput = workflow.DefaultPort
	}
	targetInput, _ := payload["target_input"].(string)
	if targetInput == "" {
		targetInput = workflow.DefaultPort
	}

	s.draft.Connections = append(s.draft.Connections, workflow.Connection{
		ID:           id,
		SourceStepID: sourceID,
		SourceOutput: sourceOutput,
		TargetStepID: targetID,
		TargetInput:  targetInput,
	})
	return nil
}

func (s *Session) applyRemoveConnection(payload map[string]interface{}) error {
	id, err := stringField(payload, "id")
	if err != nil {
		return err
	}
	if s.draft.ConnectionByID(id) == nil {
		return workflow.ErrConnectionNotFound
	}
	newConns := s.draft.Connections[:0:0]
	for _, c := range s.draft.Connections {
		if c.ID != id {
			newConns = append(newConns, c)
		}
	}
	s.draft.Connections = newConns
	return nil
}

func (s *Session) applyPinStepOutput(payload map[string]interface{}) error {
	id, err := stringField(payload, "step_id")
	if err != nil {
		return err
	}
	if !s.draft.HasStep(id) {
		return workflow.ErrStepNotFound
	}
	s.editor.PinnedOutputs[id] = payload["output"]
	return nil
}

func (s *Session) applyUnpinStepOutput(payload map[string]interface{}) error {
	id, err := stringField(payload, "step_id")
	if err != nil {
		return err
	}
	delete(s.editor.PinnedOutputs, id)
	return nil
}

func (s *Session) applyDisableStep(payload map[string]interface{}) error {
	id, err := stringField(payload, "step_id")
	if err != nil {
		return err
	}
	if !s.draft.HasStep(id) {
		return workflow.ErrStepNotFound
	}
	mode := workflow.DisableExclude
	if m, ok := payload["mode"].(string); ok && workflow.DisableMode(m) == workflow.DisableSkip {
		mode = workflow.DisableSkip
	}
	s.editor.DisabledSteps[id] = mode
	return nil
}

func (s *Session) applyEnableStep(payload map[string]interface{}) error {
	id, err := stringField(payload, "step_id")
	if err != nil {
		return err
	}
	delete(s.editor.DisabledSteps, id)
	return nil
}
