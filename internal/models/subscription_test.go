package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAdvancePeriodMonthly(t *testing.T) {
	newStart, newEnd, nextBilling := AdvancePeriod(date(2026, time.January, 15), BillingMonthly, 15)

	assert.Equal(t, date(2026, time.January, 15), newStart)
	assert.Equal(t, date(2026, time.February, 15), newEnd)
	assert.Equal(t, date(2026, time.February, 15), nextBilling)
}

func TestAdvancePeriodAnnual(t *testing.T) {
	newStart, newEnd, nextBilling := AdvancePeriod(date(2026, time.September, 1), BillingAnnual, 1)

	assert.Equal(t, date(2026, time.September, 1), newStart)
	assert.Equal(t, date(2027, time.September, 1), newEnd)
	assert.Equal(t, date(2027, time.September, 1), nextBilling)
}

func TestAdvancePeriodClampsBillingDay(t *testing.T) {
	// Day 31 does not exist in February; billing lands on the 28th.
	_, newEnd, nextBilling := AdvancePeriod(date(2026, time.January, 31), BillingMonthly, 31)

	assert.Equal(t, date(2026, time.March, 3), newEnd) // Jan 31 + 1 month normalises
	assert.Equal(t, date(2026, time.March, 28), nextBilling)
}

func TestClampBillingDay(t *testing.T) {
	assert.Equal(t, 1, ClampBillingDay(0))
	assert.Equal(t, 1, ClampBillingDay(-3))
	assert.Equal(t, 15, ClampBillingDay(15))
	assert.Equal(t, 28, ClampBillingDay(28))
	assert.Equal(t, 28, ClampBillingDay(31))
}

func TestBillingFrequencyInterval(t *testing.T) {
	months, years := BillingMonthly.Interval()
	assert.Equal(t, 1, months)
	assert.Equal(t, 0, years)

	months, years = BillingAnnual.Interval()
	assert.Equal(t, 0, months)
	assert.Equal(t, 1, years)
}
