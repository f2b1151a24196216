package store

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpsertNodeRejectsOversizedAndIllegalInput(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGraphStore()

	err := g.UpsertNode(ctx, GraphNode{PersonaID: "p", Name: ""})
	require.ErrorIs(t, err, ErrGraphValidation)

	err = g.UpsertNode(ctx, GraphNode{PersonaID: "p", Name: strings.Repeat("a", 101)})
	require.ErrorIs(t, err, ErrGraphValidation)

	err = g.UpsertNode(ctx, GraphNode{PersonaID: "p", Name: "ok", Type: strings.Repeat("t", 51)})
	require.ErrorIs(t, err, ErrGraphValidation)

	err = g.UpsertNode(ctx, GraphNode{PersonaID: "p", Name: "bad\x00name"})
	require.ErrorIs(t, err, ErrGraphValidation)

	// nothing was written by any of the rejected calls
	dump, err := g.Dump(ctx, "p")
	require.NoError(t, err)
	require.Empty(t, dump.Nodes)
}

func TestUpsertNodeTruncatesOversizedDescription(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGraphStore()

	require.NoError(t, g.UpsertNode(ctx, GraphNode{
		PersonaID:   "p",
		Name:        "Kyoto",
		Type:        "place",
		Description: strings.Repeat("d", 1500),
	}))

	node, ok, err := g.GetNode(ctx, "p", "Kyoto")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, node.Description, 1000)
}

func TestUpsertEdgeRejectsInvalidEndpointNames(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGraphStore()

	err := g.UpsertEdge(ctx, GraphEdge{PersonaID: "p", From: "", To: "Kyoto", Kind: RelationRelatedTo})
	require.ErrorIs(t, err, ErrGraphValidation)

	err = g.UpsertEdge(ctx, GraphEdge{PersonaID: "p", From: "Kyoto", To: strings.Repeat("x", 101), Kind: RelationRelatedTo})
	require.ErrorIs(t, err, ErrGraphValidation)

	dump, err := g.Dump(ctx, "p")
	require.NoError(t, err)
	require.Empty(t, dump.Edges)
}

func TestUpsertNodeAcceptsMaxLengthName(t *testing.T) {
	ctx := context.Background()
	g := NewMemoryGraphStore()

	name := strings.Repeat("a", 100)
	require.NoError(t, g.UpsertNode(ctx, GraphNode{PersonaID: "p", Name: name, Type: "place"}))

	_, ok, err := g.GetNode(ctx, "p", name)
	require.NoError(t, err)
	require.True(t, ok)
}
