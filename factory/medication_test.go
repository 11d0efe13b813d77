package factory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medguardian/adherence-engine/adherence"
	"github.com/medguardian/adherence-engine/factory"
)

func TestParseMedication(t *testing.T) {
	f := factory.NewMedicationFactory()
	med, err := f.ParseMedication(`{
		"name": "Metformin",
		"default_dose": 1,
		"dose_unit": "tablet",
		"rules": [
			{"time": "08:00", "days": [1,2,3,4,5,6,7]},
			{"time": "20:00", "days": [5,1,3,1], "dose": 0.5, "require_photo": true}
		]
	}`)
	require.NoError(t, err)

	assert.True(t, med.Active)
	require.Len(t, med.Rules, 2)
	assert.Equal(t, adherence.EveryDay(), med.Rules[0].Days)
	assert.False(t, med.Rules[0].Dose.Valid)
	assert.Equal(t, []int{1, 3, 5}, med.Rules[1].Days.Days())
	assert.Equal(t, "0.5", med.Rules[1].Dose.Decimal.String())
	assert.True(t, med.Rules[1].RequirePhoto)
}

func TestParseMedication_RejectsBadRules(t *testing.T) {
	f := factory.NewMedicationFactory()
	cases := map[string]string{
		"bad time":     `{"name":"A","default_dose":1,"dose_unit":"t","rules":[{"time":"8:00","days":[1]}]}`,
		"hour 24":      `{"name":"A","default_dose":1,"dose_unit":"t","rules":[{"time":"24:00","days":[1]}]}`,
		"empty days":   `{"name":"A","default_dose":1,"dose_unit":"t","rules":[{"time":"08:00","days":[]}]}`,
		"day 8":        `{"name":"A","default_dose":1,"dose_unit":"t","rules":[{"time":"08:00","days":[8]}]}`,
		"zero dose":    `{"name":"A","default_dose":1,"dose_unit":"t","rules":[{"time":"08:00","days":[1],"dose":0}]}`,
		"invalid json": `{"name":`,
	}
	for name, js := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.ParseMedication(js)
			assert.ErrorIs(t, err, adherence.ErrValidation)
		})
	}
}

func TestParseMedication_ErrorNamesRuleIndex(t *testing.T) {
	_, err := factory.NewMedicationFactory().ParseMedication(
		`{"name":"A","default_dose":1,"dose_unit":"t","rules":[{"time":"08:00","days":[1]},{"time":"99:00","days":[1]}]}`)
	var ve *adherence.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "rules[1].time", ve.Field)
}

func TestToJSON_RoundTripsPresets(t *testing.T) {
	f := factory.NewMedicationFactory()
	med, err := f.ParseMedication(factory.WeekdaysJSON("Vitamin D", 2, "drop", "10:00", 6, 7))
	require.NoError(t, err)

	mj := f.ToJSON(med)
	assert.Equal(t, "Vitamin D", mj.Name)
	assert.Equal(t, 2.0, mj.DefaultDose)
	require.Len(t, mj.Rules, 1)
	assert.Equal(t, "10:00", mj.Rules[0].Time)
	assert.Equal(t, []int{6, 7}, mj.Rules[0].Days)
	assert.Nil(t, mj.Rules[0].Dose)
}
