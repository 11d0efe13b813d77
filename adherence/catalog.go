package adherence

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Catalog owns medications and their recurrence rules. Every write is
// validated up front and applied in one transaction.
type Catalog struct {
	Store TxStore
	Now   func() time.Time
	NewID func() string
}

func NewCatalog(store TxStore) *Catalog {
	return &Catalog{Store: store, Now: time.Now, NewID: uuid.NewString}
}

// Create stores a new active medication with its rules.
func (c *Catalog) Create(ctx context.Context, med Medication) (Medication, error) {
	med.Name = strings.TrimSpace(med.Name)
	med.DoseUnit = strings.TrimSpace(med.DoseUnit)
	if err := med.Validate(); err != nil {
		return Medication{}, err
	}
	if med.ID == "" {
		med.ID = MedicationID(c.NewID())
	}
	now := c.Now().UTC()
	med.Active = true
	med.CreatedAt = now
	med.UpdatedAt = now
	med.Rules = append([]Rule(nil), med.Rules...)

	err := c.Store.WithTx(ctx, func(s Store) error {
		if err := s.SaveMedication(ctx, med); err != nil {
			return err
		}
		return s.SetRules(ctx, med.ID, med.Rules)
	})
	if err != nil {
		return Medication{}, err
	}
	return med, nil
}

// Get returns a medication owned by user.
func (c *Catalog) Get(ctx context.Context, id MedicationID, user UserID) (Medication, error) {
	med, err := c.Store.GetMedication(ctx, id)
	if err != nil {
		return Medication{}, err
	}
	if err := checkOwner(med, user); err != nil {
		return Medication{}, err
	}
	return med, nil
}

func (c *Catalog) List(ctx context.Context, user UserID) ([]Medication, error) {
	if user == "" {
		return nil, &ValidationError{Field: "user_id", Message: "is required"}
	}
	return c.Store.ListMedications(ctx, MedicationFilter{UserID: user})
}

// RulesFor returns the medication's rules in insertion order.
func (c *Catalog) RulesFor(ctx context.Context, id MedicationID) ([]Rule, error) {
	return c.Store.RulesFor(ctx, id)
}

// SetRules replaces the whole rule set. Nothing is written unless every
// rule is valid.
func (c *Catalog) SetRules(ctx context.Context, id MedicationID, user UserID, rules []Rule) (Medication, error) {
	if err := ValidateRules(rules); err != nil {
		return Medication{}, err
	}
	var out Medication
	err := c.Store.WithTx(ctx, func(s Store) error {
		med, err := s.GetMedication(ctx, id)
		if err != nil {
			return err
		}
		if err := checkOwner(med, user); err != nil {
			return err
		}
		med.UpdatedAt = c.Now().UTC()
		if err := s.SaveMedication(ctx, med); err != nil {
			return err
		}
		if err := s.SetRules(ctx, id, rules); err != nil {
			return err
		}
		med.Rules = append([]Rule(nil), rules...)
		out = med
		return nil
	})
	return out, err
}

// Deactivate stops future materialization. Existing plans stay.
func (c *Catalog) Deactivate(ctx context.Context, id MedicationID, user UserID) (Medication, error) {
	var out Medication
	err := c.Store.WithTx(ctx, func(s Store) error {
		med, err := s.GetMedication(ctx, id)
		if err != nil {
			return err
		}
		if err := checkOwner(med, user); err != nil {
			return err
		}
		if !med.Active {
			out = med
			return nil
		}
		med.Active = false
		med.UpdatedAt = c.Now().UTC()
		if err := s.SaveMedication(ctx, med); err != nil {
			return err
		}
		out = med
		return nil
	})
	return out, err
}

// Delete permanently removes the medication and everything derived from it.
func (c *Catalog) Delete(ctx context.Context, id MedicationID, user UserID) error {
	return c.Store.WithTx(ctx, func(s Store) error {
		med, err := s.GetMedication(ctx, id)
		if err != nil {
			return err
		}
		if err := checkOwner(med, user); err != nil {
			return err
		}
		return s.DeleteMedication(ctx, id)
	})
}

func checkOwner(med Medication, user UserID) error {
	if med.UserID != user {
		return &AuthorizationError{UserID: user, Resource: "medication", ID: string(med.ID), Reason: "not the owner"}
	}
	return nil
}
