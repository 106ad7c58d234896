package sbi

import "testing"

func TestHartMaskContains(t *testing.T) {
	cases := []struct {
		name string
		mask HartMask
		hart uint64
		want bool
	}{
		{"all harts selects zero", AllHarts(), 0, true},
		{"all harts selects large id", AllHarts(), 1000, true},
		{"bit set in range", HartMask{Bits: 0b0110, Base: 0}, 1, true},
		{"bit clear in range", HartMask{Bits: 0b0110, Base: 0}, 0, false},
		{"below base excluded", HartMask{Bits: 0b1, Base: 4}, 2, false},
		{"shifted by base", HartMask{Bits: 0b1, Base: 4}, 4, true},
		{"shift overflow excluded", HartMask{Bits: 1, Base: 0}, 64, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.mask.Contains(c.hart); got != c.want {
				t.Errorf("Contains(%d) = %v, want %v", c.hart, got, c.want)
			}
		})
	}
}
