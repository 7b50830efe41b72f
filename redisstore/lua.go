package redisstore

const (
	luaAppendEvent = `
		-- Atomically append one event with a sequence consistency check
		-- KEYS[1] = event list key
		-- ARGV[1] = sequence of the event (1-based list position)
		-- ARGV[2] = event data (JSON)
		-- Returns: {1, sequence} on success, or {0, nextSequence}

		local nextSeq = redis.call('LLEN', KEYS[1]) + 1
		local seq = tonumber(ARGV[1])

		if seq ~= nextSeq then
			return {0, nextSeq}
		end

		redis.call('RPUSH', KEYS[1], ARGV[2])
		return {1, seq}
		`

	luaGetEvents = `
		-- Get events from the list starting at a given sequence
		-- KEYS[1] = event list key
		-- ARGV[1] = starting sequence (1-based)

		local fromSeq = tonumber(ARGV[1])
		if fromSeq < 1 then
			fromSeq = 1
		end
		return redis.call('LRANGE', KEYS[1], fromSeq - 1, -1)
		`
)
