package sqlinline

const QInsertArtifact = `--sql 1e06d4be-431b-4bb8-b858-8c87e818db48
insert into artifacts(
  id,
  job_id,
  user_id,
  kind,
  position,
  url,
  source_url,
  prompt,
  created_at,
  expires_at
) values (
  $1::uuid,
  $2::uuid,
  $3::text,
  $4::text,
  $5::int,
  $6::text,
  nullif($7::text, ''),
  $8::text,
  $9::timestamptz,
  $10::timestamptz
)
on conflict (job_id, position) do nothing;
`

const QListArtifactsByJob = `--sql 7d5fecf6-ff2a-4ec1-9b82-3fa0ceebbdaf
select id::text, job_id::text, user_id, kind, position, url, coalesce(source_url, ''), prompt, created_at, expires_at
from artifacts
where job_id = $1::uuid
order by position asc;
`

const QListArtifactsByUser = `--sql 0b112912-30ac-4fb2-a662-b6cead47bbc4
select id::text, job_id::text, user_id, kind, position, url, coalesce(source_url, ''), prompt, created_at, expires_at
from artifacts
where user_id = $1::text
  and ($2::text = '' or kind = $2::text)
order by created_at desc, position asc
limit $3::int offset $4::int;
`
