package hlog

// Address is the monotonic position of a record in the hybrid log.
// Addresses are 1-based and never reused; they grow with creation order so
// comparing two addresses orders the records by age.
type Address uint64

// InvalidAddress marks "no record"; it is the zero value so freshly zeroed
// index entries and previous-version links are invalid by construction.
const InvalidAddress Address = 0

// Valid reports whether the address refers to a record.
func (a Address) Valid() bool {
	return a != InvalidAddress
}
