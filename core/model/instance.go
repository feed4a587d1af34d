package model

import (
	"context"

	"github.com/artpar/cmsodm/core/schema"
	"github.com/artpar/cmsodm/ports"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Instance is one document of a model.
type Instance struct {
	// ID is zero until the instance is inserted.
	ID primitive.ObjectID

	// Schema holds the item values.
	Schema *schema.Schema

	// Entry is the stored document as last read or written.
	Entry ports.Document

	model *Model
}

// Model returns the model the instance belongs to.
func (i *Instance) Model() *Model {
	return i.model
}

// JSON returns the externally visible form of the instance.
func (i *Instance) JSON(ctx context.Context, opts schema.Options) (map[string]any, error) {
	return i.Schema.JSON(ctx, i.ID, opts)
}

// Dependencies returns the back-references of the given kind recorded in the stored document.
func (i *Instance) Dependencies(kind schema.DependencyKind) []schema.Dependency {
	if i.Entry == nil {
		return nil
	}
	return schema.ParseDependencies(i.Entry[string(kind)])
}
