package outbox

const eventRecordedSchema = `{
  "type": "object",
  "title": "AttendanceEventRecorded",
  "properties": {
    "record_id": {"type": "string"},
    "tenant_id": {"type": "string"},
    "employee_id": {"type": "string"},
    "local_date": {"type": "string", "format": "date"},
    "kind": {"type": "string", "enum": ["punch_in", "punch_out", "break_start", "break_end"]},
    "break_type": {"type": "string", "enum": ["break1", "break2", "lunch"]},
    "occurred_at": {"type": "string", "format": "date-time"},
    "sequence": {"type": "integer"},
    "is_punched_in": {"type": "boolean"},
    "on_break": {"type": "boolean"},
    "total_work_seconds": {"type": "integer"},
    "break_seconds": {"type": "integer"},
    "overtime_seconds": {"type": "integer"}
  },
  "required": ["record_id", "tenant_id", "employee_id", "local_date", "kind", "occurred_at", "sequence", "is_punched_in", "on_break", "total_work_seconds", "break_seconds", "overtime_seconds"],
  "additionalProperties": false
}`

const sessionClosedSchema = `{
  "type": "object",
  "title": "AttendanceSessionClosed",
  "properties": {
    "record_id": {"type": "string"},
    "tenant_id": {"type": "string"},
    "employee_id": {"type": "string"},
    "local_date": {"type": "string", "format": "date"},
    "punch_in_at": {"type": "string", "format": "date-time"},
    "punch_out_at": {"type": "string", "format": "date-time"},
    "sequence": {"type": "integer"},
    "total_work_seconds": {"type": "integer"},
    "break_seconds": {"type": "integer"},
    "overtime_seconds": {"type": "integer"}
  },
  "required": ["record_id", "tenant_id", "employee_id", "local_date", "punch_in_at", "punch_out_at", "sequence", "total_work_seconds", "break_seconds", "overtime_seconds"],
  "additionalProperties": false
}`
