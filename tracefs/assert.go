package tracefs

var (
	_ Controller = (*FS)(nil)
	_ Controller = (*Fake)(nil)
)
