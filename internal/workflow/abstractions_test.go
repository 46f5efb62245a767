package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gitlify/gitlify/model"
)

func newAbstractionsStage() *CoreAbstractionsStage {
	return NewCoreAbstractionsStage(&fakeHost{}, zap.NewNop(), nil)
}

func TestParseAbstractionRoundTrip(t *testing.T) {
	stage := newAbstractionsStage()

	response := "## A\nDescription: d\nResponsibilities:\n- r1\n- r2\n\nRelationships:\n- B: uses - because\n"
	abstractions := stage.parseAbstractions(response)

	require.Len(t, abstractions, 1)
	a := abstractions[0]
	assert.Equal(t, "A", a.Name)
	assert.Equal(t, "d", a.Description)
	assert.Equal(t, []string{"r1", "r2"}, a.Responsibilities)
	require.Len(t, a.Relationships, 1)
	assert.Equal(t, model.Relationship{Name: "B", Type: "uses", Description: "because"}, a.Relationships[0])
}

func TestParseAbstractionsIsDeterministic(t *testing.T) {
	stage := newAbstractionsStage()
	response := "## Store\nDescription: persists runs\nResponsibilities:\n- save\n- load\n\n## Gateway\nDescription: talks to the host\n"

	first := stage.parseAbstractions(response)
	second := stage.parseAbstractions(response)

	assert.Equal(t, first, second)
	require.Len(t, first, 2)
	assert.Equal(t, "Store", first[0].Name)
	assert.Equal(t, "Gateway", first[1].Name)
}

func TestParseAbstractionsSkipsMalformedBlock(t *testing.T) {
	stage := newAbstractionsStage()

	// Block two carries no recognized section label at all.
	response := "## First\nDescription: fine\n\n" +
		"## Second\njust some prose with no labels\n\n" +
		"## Third\nResponsibilities:\n- works\n"

	abstractions := stage.parseAbstractions(response)

	require.Len(t, abstractions, 2)
	assert.Equal(t, "First", abstractions[0].Name)
	assert.Equal(t, "Third", abstractions[1].Name)
	// Partially malformed: Third has no Description, which defaults empty.
	assert.Equal(t, "", abstractions[1].Description)
}

func TestParseAbstractionsEmptyResponse(t *testing.T) {
	stage := newAbstractionsStage()

	assert.Empty(t, stage.parseAbstractions(""))
	assert.Empty(t, stage.parseAbstractions("no headings here at all"))
}

func TestParseRelationshipVariants(t *testing.T) {
	tests := []struct {
		name string
		line string
		want model.Relationship
	}{
		{
			name: "full form",
			line: "Store: depends on - needs persistence",
			want: model.Relationship{Name: "Store", Type: "depends on", Description: "needs persistence"},
		},
		{
			name: "bulleted type form",
			line: "Store: - uses it heavily",
			want: model.Relationship{Name: "Store", Type: "uses it heavily"},
		},
		{
			name: "type only",
			line: "Store: extends",
			want: model.Relationship{Name: "Store", Type: "extends"},
		},
		{
			name: "hyphen only form",
			line: "Database - stores parsed records",
			want: model.Relationship{Name: "Database", Type: "stores parsed records"},
		},
		{
			name: "hyphen form with description",
			line: "Database - writes to - batched inserts",
			want: model.Relationship{Name: "Database", Type: "writes to", Description: "batched inserts"},
		},
		{
			name: "no separator defaults the type",
			line: "Store",
			want: model.Relationship{Name: "Store", Type: "related to"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseRelationship(tt.line))
		})
	}
}

func TestAbstractionsPostResetsCursor(t *testing.T) {
	stage := newAbstractionsStage()
	state := model.GenerationState{
		CurrentAbstraction:   4,
		AbstractionsComplete: true,
	}

	state, err := stage.Post("## A\nDescription: d\n", state)
	require.NoError(t, err)

	assert.Len(t, state.Abstractions, 1)
	assert.Equal(t, 0, state.CurrentAbstraction)
	assert.False(t, state.AbstractionsComplete)
}

func TestAbstractionsPostToleratesEmptyResponse(t *testing.T) {
	stage := newAbstractionsStage()

	state, err := stage.Post("", model.GenerationState{})
	require.NoError(t, err)
	assert.Empty(t, state.Abstractions)
}

func TestAbstractionsPrepRequiresAnalysis(t *testing.T) {
	stage := newAbstractionsStage()

	_, err := stage.Prep(context.Background(), model.GenerationState{})
	require.Error(t, err)

	var envelope *model.ErrorEnvelope
	require.ErrorAs(t, err, &envelope)
	assert.Equal(t, model.ErrMissingInput, envelope.Code)
}

func TestIsSourceCandidate(t *testing.T) {
	assert.True(t, isSourceCandidate("workflow.ts"))
	assert.True(t, isSourceCandidate("Store.tsx"))
	assert.False(t, isSourceCandidate(".eslintrc"))
	assert.False(t, isSourceCandidate("store.test.ts"))
	assert.False(t, isSourceCandidate("parser.spec.js"))
	assert.False(t, isSourceCandidate("webpack.config.js"))
}
