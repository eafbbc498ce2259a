package entities

// ChangeType indicates why a fact's active value changed.
type ChangeType string

const (
	ChangeCreation   ChangeType = "creation"
	ChangeCorrection ChangeType = "correction" // user fixed the stored value
	ChangeRetcon     ChangeType = "retcon"     // text change accepted as intentional
	ChangeMerge      ChangeType = "merge"      // folded in by alias registration
)
