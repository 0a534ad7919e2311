package balance

// KEYS[1] request hash
// ARGV[1] expected state, ARGV[2] new state
// returns -1 missing, 0 state mismatch, 1 moved
const transitionLua = `
local cur = redis.call('HGET', KEYS[1], 'state')
if not cur then
  return -1
end
if cur ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'state', ARGV[2])
return 1
`

// KEYS[1] request hash
// ARGV[1] state, ARGV[2] user id, ARGV[3] kind, ARGV[4] created at (unix),
// ARGV[5] ttl in milliseconds, 0 for none
// returns 0 when the request exists, 1 when created
const createLua = `
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'state', ARGV[1], 'user_id', ARGV[2], 'kind', ARGV[3], 'created_at', ARGV[4])
local ttl = tonumber(ARGV[5])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
end
return 1
`
