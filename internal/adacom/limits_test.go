package adacom

import "testing"

func TestQuantize(t *testing.T) {
	l := DefaultLimits()
	tests := []struct {
		in, want float64
	}{
		{95.37, 95},
		{-3, 0},
		{10.6, 10.5},
		{10.75, 10.75},
		{10.99, 10.75},
		{0.24, 0},
		{60, 60},
		{95, 95},
		{1000, 95},
	}
	for _, tt := range tests {
		if got := l.Quantize(tt.in); got != tt.want {
			t.Errorf("Quantize(%v)=%v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestQuantize_CustomLimits(t *testing.T) {
	l := Limits{MaxChannels: 4, MinAttenuation: 2, MaxAttenuation: 30, Step: 0.5}
	tests := []struct {
		in, want float64
	}{
		{1, 2},
		{31, 30},
		{12.7, 12.5},
		{12.4, 12},
	}
	for _, tt := range tests {
		if got := l.Quantize(tt.in); got != tt.want {
			t.Errorf("Quantize(%v)=%v, want %v", tt.in, got, tt.want)
		}
	}
}
