package sqlinline

const QInsertNotification = `--sql 1d5c3809-8bb4-40ca-8d22-4f3e167d6bbb
insert into notifications(id, user_id, job_id, kind, message, created_at)
values ($1::uuid, $2::text, $3::uuid, $4::text, $5::text, $6::timestamptz)
on conflict (job_id, kind) do nothing;
`

const QListNotificationsByJob = `--sql 2ea72ac5-345c-4a0f-b368-cf5937ec366a
select id::text, user_id, job_id::text, kind, message, created_at
from notifications
where job_id = $1::uuid
order by created_at asc;
`

const QListNotificationsByUser = `--sql 55cc6394-9068-4dfe-a632-181821d69a33
select id::text, user_id, job_id::text, kind, message, created_at
from notifications
where user_id = $1::text
order by created_at desc
limit $2::int;
`
