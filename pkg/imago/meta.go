package imago

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sre-norns/imago/pkg/wyrd"
	"gorm.io/gorm"
)

// LabelModel is a storage row of a single label of a resource.
// Labels of all kinds share one table, told apart by the owner type.
type LabelModel struct {
	ID        uint   `gorm:"primarykey"`
	OwnerID   uint   `gorm:"index"`
	OwnerType string `gorm:"index"`
	Key       string `gorm:"index"`
	Value     string
}

// ResourceMeta is the common part of every stored resource
type ResourceMeta struct {
	ID      wyrd.ResourceID `gorm:"primarykey" form:"uid,omitempty" json:"uid,omitempty" yaml:"uid,omitempty" xml:"uid,omitempty"`
	Version wyrd.Version    `gorm:"default:1" form:"version" json:"version" yaml:"version" xml:"version"`

	CreatedAt time.Time      `json:"createdAt" yaml:"createdAt" xml:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt" yaml:"updatedAt" xml:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-" yaml:"-" xml:"-"`

	// Name is a unique human-readable identifier of a resource
	Name string `gorm:"uniqueIndex" form:"name" json:"name" yaml:"name" xml:"name"`

	Labels      wyrd.Labels  `gorm:"-" form:"labels,omitempty" json:"labels,omitempty" yaml:"labels,omitempty" xml:"-"`
	LabelsModel []LabelModel `gorm:"polymorphic:Owner;" json:"-" yaml:"-" xml:"-"`
}

func newResourceMeta(meta wyrd.ObjectMeta, kind wyrd.Kind) ResourceMeta {
	name := meta.Name
	if name == "" {
		name = fmt.Sprintf("%v-%v", kind, uuid.NewString()[:8])
	}

	return ResourceMeta{
		Name:   name,
		Labels: wyrd.MergeLabels(meta.Labels),
	}
}

func (meta ResourceMeta) GetID() wyrd.ResourceID {
	return meta.ID
}

func (meta ResourceMeta) GetVersionedID() wyrd.VersionedResourceId {
	return wyrd.NewVersionedId(meta.ID, meta.Version)
}

func (meta ResourceMeta) IsDeleted() bool {
	return meta.DeletedAt.Valid
}

func (meta ResourceMeta) ObjectMeta() wyrd.ObjectMeta {
	return wyrd.ObjectMeta{
		UUID:    meta.ID,
		Version: meta.Version,
		Name:    meta.Name,
		Labels:  meta.Labels,
	}
}

func (meta *ResourceMeta) BeforeCreate(tx *gorm.DB) error {
	meta.LabelsModel = make([]LabelModel, 0, len(meta.Labels))
	for _, key := range meta.Labels.Keys() {
		meta.LabelsModel = append(meta.LabelsModel, LabelModel{
			Key:   key,
			Value: meta.Labels[key],
		})
	}

	return nil
}

func (meta *ResourceMeta) AfterFind(tx *gorm.DB) error {
	if len(meta.LabelsModel) == 0 {
		return nil
	}

	meta.Labels = make(wyrd.Labels, len(meta.LabelsModel))
	for _, label := range meta.LabelsModel {
		meta.Labels[label.Key] = label.Value
	}

	return nil
}
