package models

// All lists every model for AutoMigrate, parents first.
func All() []interface{} {
	return []interface{}{
		&FieldAgent{},
		&Task{},
		&CustodyEvent{},
		&AttendanceRecord{},
		&AuditEntry{},
	}
}
