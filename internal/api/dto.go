package api

import (
	"errors"
	"net/url"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/ipm"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/profile"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/profileservice"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/session"
)

// iri accepts absolute identifiers such as profile type IRIs.
var iri = validation.By(func(v any) error {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	if u, err := url.Parse(s); err != nil || !u.IsAbs() {
		return errors.New("must be an absolute IRI")
	}
	return nil
})

// ChangeTypeRequest is the request body for retyping a node.
type ChangeTypeRequest struct {
	Type string `json:"type" example:"http://example.org/farm#Pen" validate:"required"`
}

func (r ChangeTypeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Type, validation.Required, iri),
	)
}

// SubTypeRequest names a secondary type to attach or detach.
type SubTypeRequest struct {
	Type string `json:"type" example:"http://example.org/farm#Pasture" validate:"required"`
}

func (r SubTypeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Type, validation.Required, iri),
	)
}

// IgnoredRequest flags or unflags a node.
type IgnoredRequest struct {
	Ignored *bool `json:"ignored" validate:"required"`
}

func (r IgnoredRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Ignored, validation.NotNil),
	)
}

// PropertiesRequest replaces the values of one property type.
type PropertiesRequest struct {
	PropertyType string                  `json:"property_type" validate:"required"`
	Values       []profile.PropertyValue `json:"values"`
}

func (r PropertiesRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PropertyType, validation.Required, iri),
	)
}

// TransformRequest names the transform to run.
type TransformRequest struct {
	Transform string `json:"transform" example:"http://example.org/farm#splitRecord" validate:"required"`
}

func (r TransformRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Transform, validation.Required),
	)
}

// ExportRequest names the export file to write.
type ExportRequest struct {
	Name string `json:"name" example:"farm.nt" validate:"required"`
}

func (r ExportRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 255)),
	)
}

// TreeResponse is the whole tree in pre-order.
type TreeResponse struct {
	Root    string      `json:"root" validate:"required"`
	Profile string      `json:"profile" validate:"required"`
	Typed   bool        `json:"typed"`
	Nodes   []*ipm.Node `json:"nodes" validate:"required"`
}

// NodeResponse is a single node with its editing context.
type NodeResponse = session.NodeView

// NodeTypeDTO is a node type summary.
type NodeTypeDTO struct {
	ID    string `json:"id" example:"http://example.org/farm#Record" validate:"required"`
	Label string `json:"label" example:"Record"`
}

// ValidTypesResponse lists the types a node can be changed to.
type ValidTypesResponse struct {
	Types []NodeTypeDTO `json:"types" validate:"required"`
}

// ChangeDTO is one location reconciled by a refresh.
type ChangeDTO struct {
	Location string `json:"location" example:"file:///data/farm/a.txt" validate:"required"`
	Status   string `json:"status" example:"updated" validate:"required"`
}

// RefreshResponse summarises a refresh.
type RefreshResponse struct {
	Changes []ChangeDTO `json:"changes" validate:"required"`
	Grafted int         `json:"grafted"`
	Pruned  int         `json:"pruned"`
}

// ComboResponse identifies the parent synthesised by a split.
type ComboResponse struct {
	Parent string `json:"parent" validate:"required"`
}

// CollapseResponse identifies the parent removed by a collapse.
type CollapseResponse struct {
	Removed string `json:"removed" validate:"required"`
}

// ValidationResponse reports property constraint violations.
type ValidationResponse struct {
	Valid      bool                       `json:"valid"`
	Violations []profileservice.Violation `json:"violations" validate:"required"`
}

// ExportResponse is returned after a graph export is written.
type ExportResponse struct {
	Filename string `json:"filename" example:"farm.nt" validate:"required"`
	Size     int64  `json:"size" example:"12345" validate:"required"`
	URL      string `json:"url" example:"/exports/farm.nt" validate:"required"`
}
