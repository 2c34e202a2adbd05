package service

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
)

// VendorPartition is the fulfillment bucket of one vendor
type VendorPartition struct {
	VendorID uuid.UUID
	Items    []ValidatedItem
	Subtotal int64
}

// PartitionByVendor groups validated items into one partition per vendor.
// Partitions are ordered by vendor id and items by product id, so the same
// items always produce the same partition and every checkout touches product
// rows in one global order.
func PartitionByVendor(items []ValidatedItem) []VendorPartition {
	index := make(map[uuid.UUID]int)
	partitions := make([]VendorPartition, 0)

	for _, item := range items {
		i, ok := index[item.VendorID]
		if !ok {
			i = len(partitions)
			index[item.VendorID] = i
			partitions = append(partitions, VendorPartition{VendorID: item.VendorID})
		}
		partitions[i].Items = append(partitions[i].Items, item)
		partitions[i].Subtotal += item.Amount()
	}

	sort.Slice(partitions, func(i, j int) bool {
		return lessUUID(partitions[i].VendorID, partitions[j].VendorID)
	})
	for _, p := range partitions {
		items := p.Items
		sort.SliceStable(items, func(i, j int) bool {
			return lessUUID(items[i].ProductID, items[j].ProductID)
		})
	}

	return partitions
}

// TotalAmount sums partition subtotals
func TotalAmount(partitions []VendorPartition) int64 {
	var total int64
	for _, p := range partitions {
		total += p.Subtotal
	}
	return total
}

func lessUUID(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}
