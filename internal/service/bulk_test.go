package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBulkWithFallback(t *testing.T) {
	errBulk := errors.New("bulk insert failed")

	tests := []struct {
		name   string
		items  []int
		bulk   func(context.Context, []int) (int, error)
		single func(context.Context, int) (bool, error)
		want   BulkOutcome
	}{
		{
			name:  "empty input makes no calls",
			items: nil,
			bulk: func(context.Context, []int) (int, error) {
				panic("bulk called")
			},
			want: BulkOutcome{},
		},
		{
			name:  "bulk success",
			items: []int{1, 2, 3},
			bulk:  func(_ context.Context, items []int) (int, error) { return len(items), nil },
			want:  BulkOutcome{Written: 3},
		},
		{
			name:  "bulk skips some rows",
			items: []int{1, 2, 3},
			bulk:  func(context.Context, []int) (int, error) { return 2, nil },
			want:  BulkOutcome{Written: 2, Skipped: 1},
		},
		{
			name:  "fallback isolates the bad row",
			items: []int{1, 2, 3, 4},
			bulk:  func(context.Context, []int) (int, error) { return 0, errBulk },
			single: func(_ context.Context, item int) (bool, error) {
				switch item {
				case 2:
					return false, errors.New("bad row")
				case 4:
					return false, nil
				}
				return true, nil
			},
			want: BulkOutcome{Written: 2, Skipped: 1, Failed: 1, Fallback: true, BulkErr: errBulk},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BulkWithFallback(context.Background(), tt.items, tt.bulk, tt.single)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, len(tt.items), got.Written+got.Skipped+got.Failed)
		})
	}
}
