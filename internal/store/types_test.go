package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk_MetadataAccessors(t *testing.T) {
	c := &Chunk{
		ID: "c1",
		Metadata: map[string]any{
			MetaSectionID:     "2.1.1",
			MetaSectionTitle:  "Link Training",
			MetaParentSection: "Physical Layer",
			MetaParentH1:      "PCIe Base",
			MetaCrossRefs:     []string{"4.2", "4.3"},
			"page":            12,
		},
	}

	assert.Equal(t, "2.1.1", c.SectionID())
	assert.Equal(t, "Link Training", c.SectionTitle())
	assert.Equal(t, "Physical Layer", c.ParentSection())
	assert.Equal(t, "PCIe Base", c.ParentH1())
	assert.Empty(t, c.ParentH2())
	assert.Equal(t, []string{"4.2", "4.3"}, c.CrossRefs())
	assert.Equal(t, "Link Training", c.Title())
}

func TestChunk_CrossRefs_FromJSON(t *testing.T) {
	var c Chunk
	err := json.Unmarshal([]byte(`{"id":"x","metadata":{"cross_refs":["1.2", 7, "", "3"]}}`), &c)
	require.NoError(t, err)

	assert.Equal(t, []string{"1.2", "3"}, c.CrossRefs())
}

func TestChunk_NilMetadata(t *testing.T) {
	c := &Chunk{ID: "bare"}

	assert.Empty(t, c.SectionID())
	assert.Nil(t, c.CrossRefs())
	assert.Equal(t, "bare", c.Title())
}

func TestChunk_Validate(t *testing.T) {
	assert.NoError(t, (&Chunk{ID: "a"}).Validate())
	assert.Error(t, (&Chunk{ID: " "}).Validate())
	assert.Error(t, (&Chunk{ID: "a", Level: -1}).Validate())
}

func TestChunk_HasCategory(t *testing.T) {
	c := &Chunk{ID: "a", Category: CategorySpec}

	assert.True(t, c.HasCategory(nil))
	assert.True(t, c.HasCategory([]string{"verilog", "spec"}))
	assert.False(t, c.HasCategory([]string{"verilog"}))
}
