package jobregistry

// CheckAdmission decides whether a new job may start next to existing.
//
//   - any existing exclusive job refuses every request;
//   - an exclusive request is refused while any job exists;
//   - everything else is admitted.
//
// Refusals are returned as *AdmissionError.
func CheckAdmission(existing Jobs, exclusive bool) error {
	if id, ok := existing.HasExclusive(); ok {
		return &AdmissionError{Reason: ErrExclusiveHeld, Jobs: existing, HolderID: id}
	}
	if exclusive && len(existing) > 0 {
		return &AdmissionError{Reason: ErrRegistryOccupied, Jobs: existing}
	}
	return nil
}
