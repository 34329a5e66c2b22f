package dsp

import "fmt"

// CodeLength is the number of chips in one GPS C/A code period.
const CodeLength = 1023

// g2Taps holds the two G2 register stages (1-based) whose sum selects the
// code phase of each PRN.
var g2Taps = [...][2]int{
	{2, 6}, {3, 7}, {4, 8}, {5, 9}, {1, 9}, {2, 10}, {1, 8},
	{2, 9}, {3, 10}, {2, 3}, {3, 4}, {5, 6}, {6, 7}, {7, 8},
	{8, 9}, {9, 10}, {1, 4}, {2, 5}, {3, 6}, {4, 7}, {5, 8},
	{6, 9}, {1, 3}, {4, 6}, {5, 7}, {6, 8}, {7, 9}, {8, 10},
	{1, 6}, {2, 7}, {3, 8}, {4, 9}, {5, 10}, {4, 10}, {1, 7},
	{2, 8}, {4, 10},
}

// MaxPRN is the highest PRN number GoldCode accepts.
const MaxPRN = len(g2Taps)

// GoldCode generates the C/A code of prn as chips of +1 and -1.
func GoldCode(prn int) ([]int8, error) {
	if prn < 1 || prn > MaxPRN {
		return nil, fmt.Errorf("PRN %d outside 1..%d", prn, MaxPRN)
	}
	a, b := g2Taps[prn-1][0]-1, g2Taps[prn-1][1]-1

	var g1, g2 [10]uint8
	for i := range g1 {
		g1[i], g2[i] = 1, 1
	}

	code := make([]int8, CodeLength)
	for i := range code {
		bit := g1[9] ^ g2[a] ^ g2[b]
		code[i] = int8(2*bit) - 1

		f1 := g1[2] ^ g1[9]
		f2 := g2[1] ^ g2[2] ^ g2[5] ^ g2[7] ^ g2[8] ^ g2[9]
		copy(g1[1:], g1[:9])
		copy(g2[1:], g2[:9])
		g1[0], g2[0] = f1, f2
	}
	return code, nil
}

// Resample repeats every chip samplesPerChip times.
func Resample(code []int8, samplesPerChip int) []int8 {
	if samplesPerChip < 1 {
		samplesPerChip = 1
	}
	out := make([]int8, 0, len(code)*samplesPerChip)
	for _, c := range code {
		for range samplesPerChip {
			out = append(out, c)
		}
	}
	return out
}
