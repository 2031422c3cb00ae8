package network

import (
	"testing"

	"golang.org/x/time/rate"
)

func TestNewLimiter(t *testing.T) {
	type args struct {
		perMinute int
		burst     uint
		boost     int
	}
	tests := []struct {
		name       string
		args       args
		wantPerSec rate.Limit
		wantBurst  int
	}{
		{
			name:       "default rate",
			args:       args{perMinute: 120, burst: 1, boost: 0},
			wantPerSec: 2,
			wantBurst:  1,
		},
		{
			name:       "boosted",
			args:       args{perMinute: 30, burst: 5, boost: 30},
			wantPerSec: 1,
			wantBurst:  5,
		},
		{
			name:       "zero rate falls back to default",
			args:       args{perMinute: 0, burst: 1, boost: 0},
			wantPerSec: 2,
			wantBurst:  1,
		},
		{
			name:       "zero burst falls back to one",
			args:       args{perMinute: 120, burst: 0, boost: 0},
			wantPerSec: 2,
			wantBurst:  1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewLimiter(tt.args.perMinute, tt.args.burst, tt.args.boost)
			if got.Limit() != tt.wantPerSec {
				t.Errorf("NewLimiter().Limit() = %v, want %v", got.Limit(), tt.wantPerSec)
			}
			if got.Burst() != tt.wantBurst {
				t.Errorf("NewLimiter().Burst() = %v, want %v", got.Burst(), tt.wantBurst)
			}
		})
	}
}
