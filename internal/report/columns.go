package report

import (
	"fmt"

	"github.com/sawpanic/peakscan/internal/series"
)

// Column names shared by every tabular rendering.
const (
	ColumnDate       = "Date"
	ColumnTotalViews = "Total Views"
)

// TopKColumns returns the flattened top-K header: Date, Total Views, then
// Title, Views and % for each rank.
func TopKColumns(k int) []string {
	cols := []string{ColumnDate, ColumnTotalViews}
	for rank := 1; rank <= k; rank++ {
		cols = append(cols,
			fmt.Sprintf("Top Contributor %d Title", rank),
			fmt.Sprintf("Top Contributor %d Views", rank),
			fmt.Sprintf("Top Contributor %d %%", rank),
		)
	}
	return cols
}

// MatrixColumns returns the matrix header: Date, Total Views, then one
// contribution column per entity in series order.
func MatrixColumns(entities []series.EntityID) []string {
	cols := []string{ColumnDate, ColumnTotalViews}
	for _, id := range entities {
		cols = append(cols, ContributionColumn(id))
	}
	return cols
}

// ContributionColumn names an entity's contribution column.
func ContributionColumn(id series.EntityID) string {
	return fmt.Sprintf("Contribution (%s %%)", id)
}
