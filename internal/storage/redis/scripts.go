package redis

import "github.com/redis/go-redis/v9"

const (
	// updateUsageScript creates the daily record and its indexes on first
	// touch, then either overwrites or increments one field.
	updateUsageScript = `
local usage_key = KEYS[1]     -- braintrap:usage:daily:{date}:{appID}
local index_key = KEYS[2]     -- braintrap:usage:daily:index:{date}
local dates_key = KEYS[3]     -- braintrap:usage:dates

local date = ARGV[1]
local app_id = ARGV[2]
local field = ARGV[3]
local mode = ARGV[4]
local value = tonumber(ARGV[5])
local day_number = tonumber(ARGV[6])

if redis.call('EXISTS', usage_key) == 0 then
  redis.call('HSET', usage_key,
    'date', date,
    'app_id', app_id,
    'used_minutes', 0,
    'unlock_count', 0,
    'challenges_completed', 0
  )
  redis.call('SADD', index_key, app_id)
  redis.call('ZADD', dates_key, day_number, date)
end

if mode == 'set' then
  redis.call('HSET', usage_key, field, value)
else
  redis.call('HINCRBY', usage_key, field, value)
end

return 'OK'
`

	// addAttemptScript stores an attempt and indexes it by time globally and per app
	addAttemptScript = `
local attempt_key = KEYS[1]   -- braintrap:attempt:{id}
local all_key = KEYS[2]       -- braintrap:attempts
local app_key = KEYS[3]       -- braintrap:attempts:app:{appID}

local id = ARGV[1]
local payload = ARGV[2]
local score = tonumber(ARGV[3])

redis.call('SET', attempt_key, payload)
redis.call('ZADD', all_key, score, id)
redis.call('ZADD', app_key, score, id)

return 'OK'
`

	// deleteUsageDateScript removes every record for a date plus its indexes
	deleteUsageDateScript = `
local index_key = KEYS[1]     -- braintrap:usage:daily:index:{date}
local dates_key = KEYS[2]     -- braintrap:usage:dates

local date = ARGV[1]
local prefix = ARGV[2]

local apps = redis.call('SMEMBERS', index_key)
local deleted = 0
for _, app in ipairs(apps) do
  deleted = deleted + redis.call('DEL', prefix .. date .. ':' .. app)
end
redis.call('DEL', index_key)
redis.call('ZREM', dates_key, date)

return deleted
`
)

var (
	updateUsage     = redis.NewScript(updateUsageScript)
	addAttempt      = redis.NewScript(addAttemptScript)
	deleteUsageDate = redis.NewScript(deleteUsageDateScript)
)
