package entities

// SegmentInspect is the transient result of a validation check. Equality is
// defined on (Ok, Critical) only; Attributes carry diagnostics.
type SegmentInspect struct {
	Ok         bool
	Critical   bool
	Attributes map[string]any
}

func InspectOk(attrs map[string]any) SegmentInspect {
	return SegmentInspect{Ok: true, Critical: false, Attributes: attrs}
}

func InspectFailed(attrs map[string]any) SegmentInspect {
	return SegmentInspect{Ok: false, Critical: false, Attributes: attrs}
}

func InspectCritical(attrs map[string]any) SegmentInspect {
	return SegmentInspect{Ok: false, Critical: true, Attributes: attrs}
}

// Equal compares only the (Ok, Critical) pair.
func (i SegmentInspect) Equal(other SegmentInspect) bool {
	return i.Ok == other.Ok && i.Critical == other.Critical
}
