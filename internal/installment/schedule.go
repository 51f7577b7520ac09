package installment

import "time"

// Schedule lays out the plan's installments. The first item is due at
// creation and carries the minimum down payment; the remainder is split
// evenly over the following months with the rounding residue on the last.
// Due dates preserve the creation day-of-month, clamped to shorter months.
func Schedule(planID string, totalPrice, minDown int64, months int, createdAt time.Time) []Item {
	items := make([]Item, 0, months)
	rest := totalPrice - minDown
	perMonth := int64(0)
	if months > 1 {
		perMonth = rest / int64(months-1)
	}
	for i := 0; i < months; i++ {
		item := Item{
			PlanID:  planID,
			Index:   i,
			DueDate: addMonthsClamped(createdAt, i),
			Status:  ItemUpcoming,
			IsFirst: i == 0,
		}
		switch {
		case i == 0:
			item.Nominal = minDown
		case i == months-1:
			item.Nominal = rest - perMonth*int64(months-2)
		default:
			item.Nominal = perMonth
		}
		items = append(items, item)
	}
	return items
}

// addMonthsClamped advances t by the given months keeping the original
// day-of-month, clamping to the last day of shorter months (Jan 31 + 1 month
// = Feb 28/29, not Mar 3).
func addMonthsClamped(t time.Time, months int) time.Time {
	t = t.UTC()
	year, month, day := t.Date()
	first := time.Date(year, month, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	target := first.AddDate(0, months, 0)
	if last := daysIn(target.Year(), target.Month()); day > last {
		day = last
	}
	return time.Date(target.Year(), target.Month(), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
