package dbstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/sre-norns/imago/pkg/imago"
	"github.com/sre-norns/imago/pkg/wyrd"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/selection"
)

var (
	ErrUnexpectedSelectorOperator  = fmt.Errorf("%w: unexpected requirements operator", imago.ErrInvalidSelector)
	ErrNoRequirementsValueProvided = fmt.Errorf("%w: no value for a requirement is provided", imago.ErrInvalidSelector)
)

type DbStore struct {
	db *gorm.DB
}

func NewDbStore(db *gorm.DB) *DbStore {
	return &DbStore{
		db: db,
	}
}

func (s *DbStore) Create(ctx context.Context, value any) error {
	return s.db.WithContext(ctx).Create(value).Error
}

func (s *DbStore) Get(ctx context.Context, dest any, id wyrd.ResourceID) (bool, error) {
	tx := s.db.WithContext(ctx).Preload(clause.Associations).First(dest, "id = ?", uint(id))
	if errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return tx.RowsAffected == 1, tx.Error
}

// Update writes all fields of the value, if the stored version is still the given one.
// Labels are immutable once created.
func (s *DbStore) Update(ctx context.Context, value any, id wyrd.VersionedResourceId) (bool, error) {
	tx := s.db.WithContext(ctx).
		Model(value).
		Where("version = ?", uint64(id.Version)).
		Select("*").
		Omit(clause.Associations, "id", "created_at", "deleted_at").
		Updates(value)
	if errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return tx.RowsAffected == 1, tx.Error
}

func (s *DbStore) Delete(ctx context.Context, model any, id wyrd.VersionedResourceId) (bool, error) {
	tx := s.db.WithContext(ctx).Where("version = ?", uint64(id.Version)).Delete(model, "id = ?", uint(id.ID))
	if errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return tx.RowsAffected == 1, tx.Error
}

// OwnerType returns the value label rows of the given resources carry in the owner_type column
func (s *DbStore) OwnerType(value any) (string, error) {
	stmt := &gorm.Statement{DB: s.db}
	if err := stmt.Parse(value); err != nil {
		return "", err
	}

	return stmt.Schema.Table, nil
}

func (s *DbStore) startPaginatedTx(ctx context.Context, pagination imago.Pagination) *gorm.DB {
	tx := s.db.WithContext(ctx).Offset(int(pagination.Offset))
	if pagination.Limit > 0 {
		tx = tx.Limit(int(pagination.Limit))
	}
	return tx
}

func (s *DbStore) FindResources(ctx context.Context, resources any, searchQuery imago.SearchQuery) error {
	selector, err := labels.Parse(searchQuery.Selector)
	if err != nil {
		return fmt.Errorf("%w: %w", imago.ErrInvalidSelector, err)
	}

	ownerType, err := s.OwnerType(resources)
	if err != nil {
		return err
	}

	tx, err := s.withSelector(s.startPaginatedTx(ctx, searchQuery.Pagination), ownerType, selector)
	if err != nil {
		return err
	}

	return tx.Preload(clause.Associations).Order("created_at").Order("id").Find(resources).Error
}

// ownersWith selects ids of resources that have a label with the given key and, optionally, a value condition
func (s *DbStore) ownersWith(ownerType, key string, valueCond ...any) *gorm.DB {
	sub := s.db.Session(&gorm.Session{NewDB: true}).
		Model(&imago.LabelModel{}).
		Select("owner_id").
		Where("owner_type = ?", ownerType).
		Where("? = ?", clause.Column{Name: "key"}, key)
	if len(valueCond) > 0 {
		sub = sub.Where(valueCond[0], valueCond[1:]...)
	}
	return sub
}

func (s *DbStore) numericValue() string {
	if s.db.Dialector.Name() == "mysql" {
		return "CAST(`value` AS SIGNED)"
	}
	return `CAST("value" AS INTEGER)`
}

func (s *DbStore) withSelector(tx *gorm.DB, ownerType string, selector labels.Selector) (*gorm.DB, error) {
	reqs, ok := selector.Requirements()
	if !ok || len(reqs) == 0 { // Selector has no requirements, easy way out
		return tx, nil
	}

	valueColumn := clause.Column{Name: "value"}
	for _, req := range reqs {
		switch req.Operator() {
		case selection.Equals, selection.DoubleEquals:
			value, ok := req.Values().PopAny()
			if !ok {
				return nil, ErrNoRequirementsValueProvided
			}
			tx = tx.Where("id IN (?)", s.ownersWith(ownerType, req.Key(), "? = ?", valueColumn, value))
		case selection.NotEquals:
			value, ok := req.Values().PopAny()
			if !ok {
				return nil, ErrNoRequirementsValueProvided
			}
			// Same as k8s: resources without the key match too
			tx = tx.Where("id NOT IN (?)", s.ownersWith(ownerType, req.Key(), "? = ?", valueColumn, value))
		case selection.In:
			tx = tx.Where("id IN (?)", s.ownersWith(ownerType, req.Key(), "? IN ?", valueColumn, req.Values().UnsortedList()))
		case selection.NotIn:
			tx = tx.Where("id NOT IN (?)", s.ownersWith(ownerType, req.Key(), "? IN ?", valueColumn, req.Values().UnsortedList()))
		case selection.Exists:
			tx = tx.Where("id IN (?)", s.ownersWith(ownerType, req.Key()))
		case selection.DoesNotExist:
			tx = tx.Where("id NOT IN (?)", s.ownersWith(ownerType, req.Key()))
		case selection.GreaterThan, selection.LessThan:
			value, ok := req.Values().PopAny()
			if !ok {
				return nil, ErrNoRequirementsValueProvided
			}
			bound, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not an integer", ErrNoRequirementsValueProvided, value)
			}
			op := ">"
			if req.Operator() == selection.LessThan {
				op = "<"
			}
			tx = tx.Where("id IN (?)", s.ownersWith(ownerType, req.Key(), fmt.Sprintf("%s %s ?", s.numericValue(), op), bound))
		default:
			return tx, fmt.Errorf("%w: `%v`", ErrUnexpectedSelectorOperator, req.Operator())
		}
	}

	return tx, nil
}
