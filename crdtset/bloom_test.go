package crdtset

import "testing"

func TestBloomFilterNeverFalseNegative(t *testing.T) {
	f := NewBloomFilter(1000, 42)
	for k := uint64(0); k < 1000; k++ {
		f.Add(k)
	}
	for k := uint64(0); k < 1000; k++ {
		if !f.MayContain(k) {
			t.Fatalf("key %d was added but MayContain reported absent", k)
		}
	}
}

func TestBloomFilterFalsePositiveRateIsReasonable(t *testing.T) {
	f := NewBloomFilter(1000, 1)
	for k := uint64(0); k < 1000; k++ {
		f.Add(k)
	}
	falsePositives := 0
	const probes = 10000
	for k := uint64(1_000_000); k < 1_000_000+probes; k++ {
		if f.MayContain(k) {
			falsePositives++
		}
	}
	if rate := float64(falsePositives) / probes; rate > 0.05 {
		t.Fatalf("false positive rate %f too high for a 10 bits/key filter", rate)
	}
}

func TestBloomFilterReportsOwnKeyUnderAnySalt(t *testing.T) {
	a := NewBloomFilter(10, 1)
	b := NewBloomFilter(10, 2)
	a.Add(7)
	b.Add(7)
	if !a.MayContain(7) || !b.MayContain(7) {
		t.Fatal("each filter should report its own added key present")
	}
}
