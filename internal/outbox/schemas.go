package outbox

const workoutAddedSchema = `{
  "type": "object",
  "title": "WorkoutAdded",
  "properties": {
    "workout_id": {"type": "string"},
    "user_id": {"type": "string"},
    "activity_type": {"type": "string"},
    "started_at": {"type": "string", "format": "date-time"},
    "duration_sec": {"type": "integer", "minimum": 0},
    "distance_meters": {"type": "number", "minimum": 0},
    "calories": {"type": "number", "minimum": 0},
    "avg_heart_rate": {"type": "number", "minimum": 0},
    "source": {"type": "string", "enum": ["healthkit", "garmin", "googlefit", "nostr"]},
    "detected_via": {"type": "string"},
    "version": {"type": "string"}
  },
  "required": ["workout_id", "user_id", "activity_type", "started_at", "duration_sec", "source", "detected_via", "version"],
  "additionalProperties": false
}`

const rewardPaidSchema = `{
  "type": "object",
  "title": "RewardPaid",
  "properties": {
    "reward_id": {"type": "string"},
    "workout_id": {"type": "string"},
    "user_id": {"type": "string"},
    "reward_type": {"type": "string", "enum": ["individual", "team", "event", "streak"]},
    "base_sats": {"type": "integer", "minimum": 0},
    "bonus_sats": {"type": "integer", "minimum": 0},
    "total_sats": {"type": "integer", "minimum": 1},
    "payment_hash": {"type": "string"},
    "paid_at": {"type": "string", "format": "date-time"}
  },
  "required": ["reward_id", "workout_id", "user_id", "reward_type", "base_sats", "total_sats", "paid_at"],
  "additionalProperties": false
}`
